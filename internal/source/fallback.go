package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source/fallback"
)

// FallbackSource serves curated profiles keyed by the product's canonical
// ingredient key.
type FallbackSource struct {
	table *fallback.Table
}

// NewFallbackSource creates a fallback source over table.
func NewFallbackSource(table *fallback.Table) *FallbackSource {
	return &FallbackSource{table: table}
}

func (s *FallbackSource) Method() Method { return MethodFallback }

func (s *FallbackSource) Gather(_ context.Context, p model.CatalogProduct) (*Candidate, error) {
	key := strings.TrimSpace(p.IngredientKey)
	if key == "" {
		return nil, nil
	}
	entry, ok := s.table.Get(key)
	if !ok {
		return nil, nil
	}
	return &Candidate{
		Method:        MethodFallback,
		SourceType:    model.SourceDerived,
		EvidenceGrade: model.GradeGovernmentGeneric,
		Confidence:    ConfidenceFallback,
		SourceRef:     "fallback:" + key + "|fdc:" + strconv.Itoa(entry.FDCID),
		Nutrients:     entry.Nutrients,
	}, nil
}
