// Package consensus reconciles the candidate profiles gathered for a product
// into one resolved profile.
package consensus

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

// WeightedSource is one strategy input.
type WeightedSource struct {
	SourceID       string
	SourceType     model.SourceType
	Nutrients      map[string]float64
	BaseConfidence float64
}

// Result is a blended profile.
type Result struct {
	Values            map[string]float64
	OverallConfidence float64
	PrimarySourceID   string
}

// Strategy blends two or more sources into one profile. The result must be
// a function of every input's values and confidences.
type Strategy interface {
	Compute(sources []WeightedSource) (Result, error)
}

const (
	agreementWeight    = 0.3
	corroborationBonus = 0.03
	maxConfidence      = 0.99
	// neutralAgreement applies when no core macro is carried by two sources.
	neutralAgreement = 0.5
)

// WeightedStrategy takes a confidence-weighted mean per nutrient. The first
// source is the primary. Overall confidence scales the primary's confidence
// by how closely the sources agree on core macros and adds a small bonus per
// corroborating source.
type WeightedStrategy struct{}

func (WeightedStrategy) Compute(sources []WeightedSource) (Result, error) {
	if len(sources) < 2 {
		return Result{}, eris.Errorf("consensus: need at least 2 sources, got %d", len(sources))
	}

	type acc struct {
		weighted, weights, plain float64
		n                        int
	}
	sums := make(map[string]*acc)
	for _, s := range sources {
		w := math.Max(0, s.BaseConfidence)
		for k, v := range s.Nutrients {
			a := sums[k]
			if a == nil {
				a = &acc{}
				sums[k] = a
			}
			a.weighted += w * v
			a.weights += w
			a.plain += v
			a.n++
		}
	}

	values := make(map[string]float64, len(sums))
	for k, a := range sums {
		if a.weights > 0 {
			values[k] = a.weighted / a.weights
		} else {
			values[k] = a.plain / float64(a.n)
		}
	}

	primary := sources[0]
	agreement := Agreement(sources)
	conf := primary.BaseConfidence*((1-agreementWeight)+agreementWeight*agreement) +
		corroborationBonus*float64(len(sources)-1)

	return Result{
		Values:            values,
		OverallConfidence: clamp(conf, 0, maxConfidence),
		PrimarySourceID:   primary.SourceID,
	}, nil
}

// Agreement is 1 minus the mean coefficient of variation of the core macros
// carried by at least two sources, floored at 0.
func Agreement(sources []WeightedSource) float64 {
	var cvSum float64
	var n int
	for _, key := range nutrient.CoreKeys {
		var vals []float64
		for _, s := range sources {
			if v, ok := s.Nutrients[key]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) < 2 {
			continue
		}
		cvSum += coefficientOfVariation(vals)
		n++
	}
	if n == 0 {
		return neutralAgreement
	}
	return 1 - math.Min(1, cvSum/float64(n))
}

func coefficientOfVariation(vals []float64) float64 {
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance) / math.Abs(mean)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
