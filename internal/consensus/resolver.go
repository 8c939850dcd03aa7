package consensus

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sanity"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source"
)

// RevertDiscount scales the primary's confidence when a blended profile fails
// validation and the primary's raw values are used instead.
const RevertDiscount = 0.7

// Gatherer supplies candidates. *source.Gatherer satisfies it.
type Gatherer interface {
	Redundant(ctx context.Context, p model.CatalogProduct) []*source.Candidate
	LastResort(ctx context.Context, p model.CatalogProduct) *source.Candidate
}

// Resolution is the single profile chosen for a product.
type Resolution struct {
	Method        source.Method       `json:"method"`
	SourceType    model.SourceType    `json:"sourceType"`
	EvidenceGrade model.EvidenceGrade `json:"evidenceGrade"`
	Confidence    float64             `json:"confidence"`
	SourceRef     string              `json:"sourceRef"`
	Values        map[string]float64  `json:"values"`
	// Primary is the method the evidence grade and source type come from.
	Primary source.Method `json:"primary"`
	// Sources lists every contributing method in precedence order.
	Sources []source.Method `json:"sources"`
	// Reverted is set when a blend failed validation and the primary's raw
	// values were kept.
	Reverted bool `json:"reverted,omitempty"`
	// ConsensusFindings are the validator findings on the blended profile.
	ConsensusFindings []sanity.Finding `json:"consensusFindings,omitempty"`
}

// HistoricalException marks values that were inferred from the product name
// rather than read from a database record.
func (r *Resolution) HistoricalException() bool {
	return r.Method == source.MethodNameMatch
}

// Resolver turns gathered candidates into one Resolution.
type Resolver struct {
	gatherer  Gatherer
	strategy  Strategy
	validator sanity.Validator
}

// NewResolver creates a Resolver. Nil strategy or validator use the defaults.
func NewResolver(g Gatherer, strategy Strategy, validator sanity.Validator) *Resolver {
	if strategy == nil {
		strategy = WeightedStrategy{}
	}
	if validator == nil {
		validator = sanity.NewRuleValidator()
	}
	return &Resolver{gatherer: g, strategy: strategy, validator: validator}
}

// Resolve gathers and reconciles candidates for p. A nil Resolution with a
// nil error means no source had anything for the product.
func (r *Resolver) Resolve(ctx context.Context, p model.CatalogProduct) (*Resolution, error) {
	cands := r.gatherer.Redundant(ctx, p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch len(cands) {
	case 0:
		last := r.gatherer.LastResort(ctx, p)
		if last == nil {
			return nil, ctx.Err()
		}
		return single(last), nil
	case 1:
		return single(cands[0]), nil
	}
	return r.blend(p, cands), nil
}

func single(c *source.Candidate) *Resolution {
	return &Resolution{
		Method:        c.Method,
		SourceType:    c.SourceType,
		EvidenceGrade: c.EvidenceGrade,
		Confidence:    c.Confidence,
		SourceRef:     c.SourceRef,
		Values:        copyValues(c.Nutrients),
		Primary:       c.Method,
		Sources:       []source.Method{c.Method},
	}
}

func (r *Resolver) blend(p model.CatalogProduct, cands []*source.Candidate) *Resolution {
	log := zap.L().With(zap.String("component", "consensus"), zap.String("product_id", p.ID))

	inputs := make([]WeightedSource, len(cands))
	methods := make([]source.Method, len(cands))
	for i, c := range cands {
		inputs[i] = WeightedSource{
			SourceID:       string(c.Method),
			SourceType:     c.SourceType,
			Nutrients:      c.Nutrients,
			BaseConfidence: c.Confidence,
		}
		methods[i] = c.Method
	}

	res, err := r.strategy.Compute(inputs)
	primary := cands[0]
	if err == nil {
		for _, c := range cands {
			if string(c.Method) == res.PrimarySourceID {
				primary = c
				break
			}
		}
	}

	out := &Resolution{
		Method:        source.MethodConsensus,
		SourceType:    primary.SourceType,
		EvidenceGrade: primary.EvidenceGrade,
		SourceRef:     compositeRef(methods, primary.SourceRef),
		Primary:       primary.Method,
		Sources:       methods,
	}

	if err != nil {
		log.Warn("consensus: strategy failed, using primary source", zap.Error(err))
		out.Values = copyValues(primary.Nutrients)
		out.Confidence = primary.Confidence
		return out
	}

	findings := r.validator.Validate(res.Values, p.Name)
	out.ConsensusFindings = findings
	if sanity.HasErrors(findings) {
		log.Warn("consensus: blended profile failed validation, reverting to primary",
			zap.String("primary", string(primary.Method)),
			zap.Strings("errors", sanity.ErrorMessages(findings, 10)),
		)
		out.Values = copyValues(primary.Nutrients)
		out.Confidence = primary.Confidence * RevertDiscount
		out.Reverted = true
		return out
	}

	out.Values = copyValues(res.Values)
	out.Confidence = res.OverallConfidence
	return out
}

func compositeRef(methods []source.Method, primaryRef string) string {
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = string(m)
	}
	return "consensus:" + strings.Join(parts, "+") + "|" + primaryRef
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
