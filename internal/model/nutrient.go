package model

import "time"

// SourceType says whether a value came from the manufacturer or was derived.
type SourceType string

const (
	SourceManufacturer SourceType = "MANUFACTURER"
	SourceDerived      SourceType = "DERIVED"
)

// EvidenceGrade ranks the provenance of a nutrient value.
type EvidenceGrade string

const (
	GradeBarcodeDatabase   EvidenceGrade = "BARCODE_DATABASE"
	GradeGovernmentGeneric EvidenceGrade = "GOVERNMENT_GENERIC"
	GradeGovernmentBranded EvidenceGrade = "GOVERNMENT_BRANDED"
	GradeInferredFromName  EvidenceGrade = "INFERRED_FROM_NAME"
)

// VerificationStatus is the human review state of a nutrient value.
type VerificationStatus string

const (
	StatusNeedsReview VerificationStatus = "NEEDS_REVIEW"
	StatusVerified    VerificationStatus = "VERIFIED"
	StatusRejected    VerificationStatus = "REJECTED"
)

// InitialVersion is the version of a freshly inserted nutrient value.
const InitialVersion = 1

// NutrientDefinition is a row of the nutrient reference table.
type NutrientDefinition struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Unit string `json:"unit"`
}

// NutrientValue is one (product, nutrient) row written by the engine.
type NutrientValue struct {
	ProductID            string             `json:"productId"`
	NutrientDefinitionID string             `json:"nutrientDefinitionId"`
	NutrientKey          string             `json:"nutrientKey"`
	ValuePer100g         float64            `json:"valuePer100g"`
	SourceType           SourceType         `json:"sourceType"`
	SourceRef            string             `json:"sourceRef"`
	ConfidenceScore      float64            `json:"confidenceScore"`
	EvidenceGrade        EvidenceGrade      `json:"evidenceGrade"`
	HistoricalException  bool               `json:"historicalException"`
	VerificationStatus   VerificationStatus `json:"verificationStatus"`
	Version              int                `json:"version"`
	RetrievalRunID       string             `json:"retrievalRunId"`
	RetrievedAt          time.Time          `json:"retrievedAt"`
}
