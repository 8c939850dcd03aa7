package fdc

import (
	"regexp"
	"strings"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

var numberToKey = map[string]string{
	"208":  nutrient.KeyKcal,
	"1008": nutrient.KeyKcal,
	"2047": nutrient.KeyKcal,
	"2048": nutrient.KeyKcal,
	"268":  nutrient.KeyKcal,
	"203":  nutrient.KeyProtein,
	"205":  nutrient.KeyCarb,
	"204":  nutrient.KeyFat,
	"291":  nutrient.KeyFiber,
	"269":  nutrient.KeySugars,
	"539":  nutrient.KeyAddedSugars,
	"606":  nutrient.KeySatFat,
	"605":  nutrient.KeyTransFat,
	"601":  "cholesterol_mg",
	"307":  nutrient.KeySodium,
	"328":  nutrient.KeyVitaminD,
	"324":  nutrient.KeyVitaminD,
	"301":  "calcium_mg",
	"303":  "iron_mg",
	"306":  "potassium_mg",
	"320":  nutrient.KeyVitaminA,
	"401":  "vitamin_c_mg",
	"323":  "vitamin_e_mg",
	"430":  "vitamin_k_mcg",
	"404":  "thiamin_mg",
	"405":  "riboflavin_mg",
	"406":  "niacin_mg",
	"415":  "vitamin_b6_mg",
	"417":  "folate_mcg",
	"418":  "vitamin_b12_mcg",
	"416":  "biotin_mcg",
	"410":  "pantothenic_acid_mg",
	"305":  "phosphorus_mg",
	"353":  "iodine_mcg",
	"304":  "magnesium_mg",
	"309":  "zinc_mg",
	"317":  "selenium_mcg",
	"312":  "copper_mg",
	"315":  "manganese_mg",
	"334":  "chromium_mcg",
	"341":  "molybdenum_mcg",
	"313":  "chloride_mg",
	"421":  "choline_mg",
}

type namePattern struct {
	re  *regexp.Regexp
	key string
}

// namePatterns maps nutrient names for rows without a known number. Order matters.
var namePatterns = []namePattern{
	{regexp.MustCompile(`^protein$`), nutrient.KeyProtein},
	{regexp.MustCompile(`carbohydrate, by difference`), nutrient.KeyCarb},
	{regexp.MustCompile(`total lipid \(fat\)`), nutrient.KeyFat},
	{regexp.MustCompile(`fiber, total dietary`), nutrient.KeyFiber},
	{regexp.MustCompile(`sugars, total`), nutrient.KeySugars},
	{regexp.MustCompile(`sugars, added`), nutrient.KeyAddedSugars},
	{regexp.MustCompile(`fatty acids, total saturated`), nutrient.KeySatFat},
	{regexp.MustCompile(`fatty acids, total trans`), nutrient.KeyTransFat},
	{regexp.MustCompile(`^cholesterol`), "cholesterol_mg"},
	{regexp.MustCompile(`^sodium, na`), nutrient.KeySodium},
	{regexp.MustCompile(`vitamin d`), nutrient.KeyVitaminD},
	{regexp.MustCompile(`^calcium, ca`), "calcium_mg"},
	{regexp.MustCompile(`^iron, fe`), "iron_mg"},
	{regexp.MustCompile(`^potassium, k`), "potassium_mg"},
	{regexp.MustCompile(`vitamin a, rae`), nutrient.KeyVitaminA},
	{regexp.MustCompile(`vitamin c`), "vitamin_c_mg"},
	{regexp.MustCompile(`vitamin e`), "vitamin_e_mg"},
	{regexp.MustCompile(`vitamin k`), "vitamin_k_mcg"},
	{regexp.MustCompile(`^thiamin`), "thiamin_mg"},
	{regexp.MustCompile(`^riboflavin`), "riboflavin_mg"},
	{regexp.MustCompile(`^niacin`), "niacin_mg"},
	{regexp.MustCompile(`vitamin b-?6`), "vitamin_b6_mg"},
	{regexp.MustCompile(`^folate, total`), "folate_mcg"},
	{regexp.MustCompile(`vitamin b-?12`), "vitamin_b12_mcg"},
	{regexp.MustCompile(`^biotin`), "biotin_mcg"},
	{regexp.MustCompile(`pantothenic acid`), "pantothenic_acid_mg"},
	{regexp.MustCompile(`^phosphorus, p`), "phosphorus_mg"},
	{regexp.MustCompile(`^iodine, i`), "iodine_mcg"},
	{regexp.MustCompile(`^magnesium, mg`), "magnesium_mg"},
	{regexp.MustCompile(`^zinc, zn`), "zinc_mg"},
	{regexp.MustCompile(`^selenium, se`), "selenium_mcg"},
	{regexp.MustCompile(`^copper, cu`), "copper_mg"},
	{regexp.MustCompile(`^manganese, mn`), "manganese_mg"},
	{regexp.MustCompile(`^chromium, cr`), "chromium_mcg"},
	{regexp.MustCompile(`^molybdenum, mo`), "molybdenum_mcg"},
	{regexp.MustCompile(`^chloride, cl`), "chloride_mg"},
	{regexp.MustCompile(`^choline, total`), "choline_mg"},
	{regexp.MustCompile(`omega-3`), nutrient.KeyOmega3},
	{regexp.MustCompile(`omega-6`), nutrient.KeyOmega6},
}

var (
	omega3Components = regexp.MustCompile(`18:3 n-3|18:4|20:5 n-3|22:5 n-3|22:6 n-3`)
	omega6Components = regexp.MustCompile(`18:2 n-6|18:3 n-6|20:2 n-6|20:3 n-6|20:4 n-6|22:2 n-6`)
)

func (r FoodNutrient) number() string {
	if r.Nutrient != nil && r.Nutrient.Number != "" {
		return strings.TrimSpace(r.Nutrient.Number)
	}
	return strings.TrimSpace(r.NutrientNumber)
}

func (r FoodNutrient) name() string {
	if r.Nutrient != nil && r.Nutrient.Name != "" {
		return strings.ToLower(strings.TrimSpace(r.Nutrient.Name))
	}
	return strings.ToLower(strings.TrimSpace(r.NutrientName))
}

func (r FoodNutrient) unit() string {
	if r.Nutrient != nil && r.Nutrient.UnitName != "" {
		return r.Nutrient.UnitName
	}
	return r.UnitName
}

func (r FoodNutrient) amount() (float64, bool) {
	if r.Amount != nil {
		return *r.Amount, true
	}
	if r.Value != nil {
		return *r.Value, true
	}
	return 0, false
}

func keyFor(number, name string) string {
	if k, ok := numberToKey[number]; ok {
		return k
	}
	for _, p := range namePatterns {
		if p.re.MatchString(name) {
			return p.key
		}
	}
	return ""
}

// MapNutrients converts detail rows to canonical per-100g values. Energy given
// in kcal wins over energy converted from kJ. Omega-3 and omega-6 totals fall
// back to the sum of their fatty acid components.
func MapNutrients(rows []FoodNutrient) map[string]float64 {
	out := make(map[string]float64)
	var omega3, omega6 float64

	for _, row := range rows {
		amount, ok := row.amount()
		if !ok || amount < 0 {
			continue
		}
		name, unit := row.name(), row.unit()

		if omega3Components.MatchString(name) {
			if v, ok := nutrient.Convert(nutrient.KeyOmega3, amount, unit); ok {
				omega3 += v
			}
		}
		if omega6Components.MatchString(name) {
			if v, ok := nutrient.Convert(nutrient.KeyOmega6, amount, unit); ok {
				omega6 += v
			}
		}

		key := keyFor(row.number(), name)
		if key == "" {
			continue
		}
		v, ok := nutrient.Convert(key, amount, unit)
		if !ok {
			continue
		}
		if key == nutrient.KeyKcal && nutrient.NormalizeUnit(unit) == "kcal" {
			out[key] = v
			continue
		}
		if _, exists := out[key]; !exists {
			out[key] = v
		}
	}

	if _, ok := out[nutrient.KeyOmega3]; !ok && omega3 > 0 {
		out[nutrient.KeyOmega3] = omega3
	}
	if _, ok := out[nutrient.KeyOmega6]; !ok && omega6 > 0 {
		out[nutrient.KeyOmega6] = omega6
	}
	return out
}
