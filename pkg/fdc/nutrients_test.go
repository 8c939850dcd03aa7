package fdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func full(number, name, unit string, amount float64) FoodNutrient {
	return FoodNutrient{Nutrient: &NutrientInfo{Number: number, Name: name, UnitName: unit}, Amount: f(amount)}
}

func abridged(number, name, unit string, value float64) FoodNutrient {
	return FoodNutrient{NutrientNumber: number, NutrientName: name, UnitName: unit, Value: f(value)}
}

func TestMapNutrients_ByNumber(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		full("208", "Energy", "KCAL", 120),
		full("203", "Protein", "G", 4.4),
		full("205", "Carbohydrate, by difference", "G", 21.3),
		full("204", "Total lipid (fat)", "G", 1.92),
		full("307", "Sodium, Na", "MG", 7),
		full("418", "Vitamin B-12", "UG", 0),
	})
	assert.Equal(t, map[string]float64{
		"kcal":            120,
		"protein_g":       4.4,
		"carb_g":          21.3,
		"fat_g":           1.92,
		"sodium_mg":       7,
		"vitamin_b12_mcg": 0,
	}, got)
}

func TestMapNutrients_ByName(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		abridged("", "Protein", "g", 10),
		abridged("", "Fiber, total dietary", "g", 2),
		abridged("", "Calcium, Ca", "mg", 120),
		abridged("", "Something unknown", "g", 3),
	})
	assert.Equal(t, map[string]float64{"protein_g": 10, "fiber_g": 2, "calcium_mg": 120}, got)
}

func TestMapNutrients_KcalBeatsKJ(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		full("268", "Energy", "kJ", 836),
		full("208", "Energy", "kcal", 201),
	})
	assert.Equal(t, 201.0, got["kcal"])

	got = MapNutrients([]FoodNutrient{full("268", "Energy", "kJ", 836)})
	assert.InDelta(t, 199.8, got["kcal"], 0.05)
}

func TestMapNutrients_FirstValueWins(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		full("328", "Vitamin D (D2 + D3)", "UG", 2.5),
		full("324", "Vitamin D (D2 + D3), International Units", "IU", 400),
	})
	assert.Equal(t, 2.5, got["vitamin_d_mcg"])
}

func TestMapNutrients_IUConversion(t *testing.T) {
	got := MapNutrients([]FoodNutrient{full("324", "Vitamin D", "IU", 400)})
	assert.InDelta(t, 10, got["vitamin_d_mcg"], 1e-9)
}

func TestMapNutrients_OmegaComponents(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		full("851", "PUFA 18:3 n-3 c,c,c (ALA)", "G", 0.1),
		full("629", "PUFA 20:5 n-3 (EPA)", "G", 0.5),
		full("621", "PUFA 22:6 n-3 (DHA)", "MG", 1100),
		full("675", "PUFA 18:2 n-6 c,c", "G", 0.2),
	})
	assert.InDelta(t, 1.7, got["omega3_g"], 1e-9)
	assert.InDelta(t, 0.2, got["omega6_g"], 1e-9)
}

func TestMapNutrients_SkipsNegativeAndMissing(t *testing.T) {
	got := MapNutrients([]FoodNutrient{
		full("203", "Protein", "G", -1),
		{Nutrient: &NutrientInfo{Number: "204", Name: "Total lipid (fat)", UnitName: "G"}},
	})
	assert.Empty(t, got)
}
