// Package source gathers candidate nutrient profiles for a catalog product
// from the barcode database, the government food-composition database, the
// curated fallback table and the name matcher.
package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
)

// Method identifies how a candidate was produced.
type Method string

const (
	MethodBarcode    Method = "barcode"
	MethodGovernment Method = "government"
	MethodFallback   Method = "fallback"
	MethodNameMatch  Method = "name_match"
	// MethodConsensus labels a profile blended from several candidates.
	MethodConsensus Method = "consensus"
)

// Source confidences.
const (
	ConfidenceBarcodeFull       = 0.92
	ConfidenceBarcodePartial    = 0.72
	ConfidenceGovernmentGeneric = 0.95
	ConfidenceGovernmentBranded = 0.82
	ConfidenceFallback          = 0.85
	ConfidenceNameMatch         = 0.70
)

// ErrNoBarcode is returned by the barcode source when a product has no usable
// barcode.
var ErrNoBarcode = eris.New("source: no usable barcode")

// Candidate is one source's per-100g profile for a product. Candidates are
// never persisted directly.
type Candidate struct {
	Method        Method              `json:"method"`
	SourceType    model.SourceType    `json:"sourceType"`
	EvidenceGrade model.EvidenceGrade `json:"evidenceGrade"`
	Confidence    float64             `json:"confidence"`
	SourceRef     string              `json:"sourceRef"`
	Nutrients     map[string]float64  `json:"nutrients"`
}

// Source produces at most one candidate per product. A nil candidate with a
// nil error means the source has nothing for the product.
type Source interface {
	Method() Method
	Gather(ctx context.Context, p model.CatalogProduct) (*Candidate, error)
}

// Resetter is implemented by sources that cache upstream responses for the
// duration of one sweep.
type Resetter interface {
	Reset()
}
