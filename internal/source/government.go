package source

import (
	"context"
	"strings"
	"time"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/fdc"
)

// Matcher finds the best FoodData Central food for a barcode or a free-text
// query. *fdc.Matcher satisfies it.
type Matcher interface {
	MatchByUPC(ctx context.Context, upc string) (*fdc.Match, error)
	SearchAndGetBestMatch(ctx context.Context, query string) (*fdc.Match, error)
}

const minGovernmentCore = 3

// GovernmentSource looks a product up in FoodData Central, by barcode among
// branded foods first and then by name.
type GovernmentSource struct {
	matcher Matcher
	timeout time.Duration
}

// NewGovernmentSource creates a government source. A zero timeout uses
// DefaultSourceTimeout.
func NewGovernmentSource(m Matcher, timeout time.Duration) *GovernmentSource {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &GovernmentSource{matcher: m, timeout: timeout}
}

func (s *GovernmentSource) Method() Method { return MethodGovernment }

// Reset clears the matcher's response cache when it has one.
func (s *GovernmentSource) Reset() {
	if r, ok := s.matcher.(Resetter); ok {
		r.Reset()
	}
}

func (s *GovernmentSource) Gather(ctx context.Context, p model.CatalogProduct) (*Candidate, error) {
	upc := NormalizeBarcode(p.BarcodeValue())
	query := GovernmentQuery(p)
	if upc == "" && query == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var match *fdc.Match
	if upc != "" {
		m, err := s.matcher.MatchByUPC(ctx, upc)
		if err != nil {
			return nil, err
		}
		if m != nil && nutrient.CountCore(m.Nutrients) >= minGovernmentCore {
			match = m
		}
	}
	if match == nil && query != "" {
		m, err := s.matcher.SearchAndGetBestMatch(ctx, query)
		if err != nil {
			return nil, err
		}
		match = m
	}
	if match == nil || nutrient.CountCore(match.Nutrients) < minGovernmentCore {
		return nil, nil
	}

	c := &Candidate{
		Method:        MethodGovernment,
		SourceType:    model.SourceDerived,
		EvidenceGrade: model.GradeGovernmentBranded,
		Confidence:    ConfidenceGovernmentBranded,
		SourceRef:     fdc.SourceRef(match.FDCID),
		Nutrients:     make(map[string]float64, len(match.Nutrients)),
	}
	if match.IsGeneric() {
		c.EvidenceGrade = model.GradeGovernmentGeneric
		c.Confidence = ConfidenceGovernmentGeneric
	}
	for k, v := range match.Nutrients {
		c.Nutrients[k] = v
	}
	return c, nil
}

// GovernmentQuery builds the name search for p from its ingredient name,
// brand and product name. Repeated parts appear once.
func GovernmentQuery(p model.CatalogProduct) string {
	var parts []string
	seen := make(map[string]bool, 3)
	for _, part := range []string{p.IngredientName, p.Brand, p.Name} {
		part = strings.TrimSpace(part)
		key := strings.ToLower(part)
		if part == "" || seen[key] {
			continue
		}
		seen[key] = true
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}
