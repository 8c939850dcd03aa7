// Package nutrient holds the canonical nutrient dictionary: the per-100g keys
// the catalog carries, their target units, and unit conversion helpers.
package nutrient

// Core macro keys. A product is complete when all four carry a value.
const (
	KeyKcal    = "kcal"
	KeyProtein = "protein_g"
	KeyCarb    = "carb_g"
	KeyFat     = "fat_g"
)

// Secondary keys referenced by name elsewhere in the engine.
const (
	KeyFiber       = "fiber_g"
	KeySugars      = "sugars_g"
	KeyAddedSugars = "added_sugars_g"
	KeySatFat      = "sat_fat_g"
	KeyTransFat    = "trans_fat_g"
	KeySodium      = "sodium_mg"
	KeyVitaminA    = "vitamin_a_mcg"
	KeyVitaminD    = "vitamin_d_mcg"
	KeyOmega3      = "omega3_g"
	KeyOmega6      = "omega6_g"
)

// CoreKeys lists the core macros in reporting order.
var CoreKeys = []string{KeyKcal, KeyProtein, KeyCarb, KeyFat}

type definition struct {
	key  string
	unit string
}

var definitions = []definition{
	{KeyKcal, "kcal"},
	{KeyProtein, "g"},
	{KeyCarb, "g"},
	{KeyFat, "g"},
	{KeyFiber, "g"},
	{KeySugars, "g"},
	{KeyAddedSugars, "g"},
	{KeySatFat, "g"},
	{KeyTransFat, "g"},
	{"cholesterol_mg", "mg"},
	{KeySodium, "mg"},
	{KeyVitaminD, "mcg"},
	{"calcium_mg", "mg"},
	{"iron_mg", "mg"},
	{"potassium_mg", "mg"},
	{KeyVitaminA, "mcg"},
	{"vitamin_c_mg", "mg"},
	{"vitamin_e_mg", "mg"},
	{"vitamin_k_mcg", "mcg"},
	{"thiamin_mg", "mg"},
	{"riboflavin_mg", "mg"},
	{"niacin_mg", "mg"},
	{"vitamin_b6_mg", "mg"},
	{"folate_mcg", "mcg"},
	{"vitamin_b12_mcg", "mcg"},
	{"biotin_mcg", "mcg"},
	{"pantothenic_acid_mg", "mg"},
	{"phosphorus_mg", "mg"},
	{"iodine_mcg", "mcg"},
	{"magnesium_mg", "mg"},
	{"zinc_mg", "mg"},
	{"selenium_mcg", "mcg"},
	{"copper_mg", "mg"},
	{"manganese_mg", "mg"},
	{"chromium_mcg", "mcg"},
	{"molybdenum_mcg", "mcg"},
	{"chloride_mg", "mg"},
	{"choline_mg", "mg"},
	{KeyOmega3, "g"},
	{KeyOmega6, "g"},
}

var unitByKey = func() map[string]string {
	m := make(map[string]string, len(definitions))
	for _, d := range definitions {
		m[d.key] = d.unit
	}
	return m
}()

// Keys returns every canonical key in dictionary order.
func Keys() []string {
	out := make([]string, len(definitions))
	for i, d := range definitions {
		out[i] = d.key
	}
	return out
}

// IsKnown reports whether key is part of the canonical dictionary.
func IsKnown(key string) bool {
	_, ok := unitByKey[key]
	return ok
}

// Unit returns the target unit for key, or "" when the key is unknown.
func Unit(key string) string {
	return unitByKey[key]
}

// IsCore reports whether key is one of the four core macros.
func IsCore(key string) bool {
	switch key {
	case KeyKcal, KeyProtein, KeyCarb, KeyFat:
		return true
	}
	return false
}

// CountCore returns how many core macros are present in values.
func CountCore(values map[string]float64) int {
	n := 0
	for _, k := range CoreKeys {
		if _, ok := values[k]; ok {
			n++
		}
	}
	return n
}
