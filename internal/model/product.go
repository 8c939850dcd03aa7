// Package model defines the catalog records the nutrient engine reads and writes.
package model

import (
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

// CatalogProduct is a purchasable catalog item. The engine never modifies it.
type CatalogProduct struct {
	ID             string                      `json:"id"`
	OrganizationID string                      `json:"organizationId"`
	Name           string                      `json:"name"`
	Brand          string                      `json:"brand,omitempty"`
	Barcode        *string                     `json:"barcode,omitempty"`
	IngredientKey  string                      `json:"ingredientKey,omitempty"`
	IngredientName string                      `json:"ingredientName,omitempty"`
	Nutrients      map[string]ExistingNutrient `json:"nutrients,omitempty"`
}

// ExistingNutrient is a nutrient row already stored for a product.
type ExistingNutrient struct {
	Value              *float64           `json:"value,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
}

// HasValue reports whether key carries a non-null stored value.
func (p CatalogProduct) HasValue(key string) bool {
	n, ok := p.Nutrients[key]
	return ok && n.Value != nil
}

// IsVerified reports whether a human already verified the stored value for key.
func (p CatalogProduct) IsVerified(key string) bool {
	n, ok := p.Nutrients[key]
	return ok && n.VerificationStatus == StatusVerified
}

// MissingCore returns the core macros without a stored value, in reporting order.
func (p CatalogProduct) MissingCore() []string {
	var missing []string
	for _, k := range nutrient.CoreKeys {
		if !p.HasValue(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// BarcodeValue returns the raw barcode or "".
func (p CatalogProduct) BarcodeValue() string {
	if p.Barcode == nil {
		return ""
	}
	return *p.Barcode
}
