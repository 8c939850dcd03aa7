package nutrient

import (
	"math"
	"strings"
)

const (
	// KJPerKcal converts kilojoules to kilocalories.
	KJPerKcal = 4.184
	// SodiumMgPerSaltG is the sodium content in mg of one gram of salt.
	SodiumMgPerSaltG = 393.4

	iuToMcgVitaminD = 0.025
	iuToMcgVitaminA = 0.3
)

// NormalizeUnit maps the unit spellings used by the upstream databases onto
// kcal, kj, g, mg, mcg or iu.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "kcal", "cal", "calorie", "calories":
		return "kcal"
	case "kj", "kilojoule", "kilojoules":
		return "kj"
	case "g", "gram", "grams":
		return "g"
	case "mg", "milligram", "milligrams":
		return "mg"
	case "mcg", "µg", "μg", "ug", "microgram", "micrograms":
		return "mcg"
	case "iu":
		return "iu"
	}
	return u
}

// Convert converts value from one unit to the canonical unit of key. The
// boolean is false when no conversion exists.
func Convert(key string, value float64, from string) (float64, bool) {
	to := Unit(key)
	if to == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	from = NormalizeUnit(from)
	if from == "" {
		from = to
	}
	if from == to {
		return value, true
	}

	switch {
	case to == "kcal" && from == "kj":
		return value / KJPerKcal, true
	case from == "iu" && key == KeyVitaminD:
		return value * iuToMcgVitaminD, true
	case from == "iu" && key == KeyVitaminA:
		return value * iuToMcgVitaminA, true
	}

	fromScale, ok1 := massScale[from]
	toScale, ok2 := massScale[to]
	if !ok1 || !ok2 {
		return 0, false
	}
	return value * fromScale / toScale, true
}

// massScale expresses each mass unit in micrograms.
var massScale = map[string]float64{
	"g":   1e6,
	"mg":  1e3,
	"mcg": 1,
}

// KcalFromKJ converts kilojoules to kilocalories.
func KcalFromKJ(kj float64) float64 {
	return kj / KJPerKcal
}

// SodiumFromSalt returns the sodium in mg contained in saltG grams of salt.
func SodiumFromSalt(saltG float64) float64 {
	return saltG * SodiumMgPerSaltG
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
