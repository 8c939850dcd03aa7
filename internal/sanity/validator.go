package sanity

import (
	"fmt"
	"math"
	"strings"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

// Severity grades a plausibility finding.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Finding is one plausibility problem with a profile.
type Finding struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`
}

// Validator checks a per-100g profile for internal consistency.
type Validator interface {
	Validate(values map[string]float64, productName string) []Finding
}

// Rule names.
const (
	RuleMacroSum       = "macro_sum"
	RuleAtwater        = "atwater_energy"
	RuleSatFat         = "sat_fat_exceeds_fat"
	RuleSugars         = "sugars_exceed_carb"
	RuleFiber          = "fiber_exceeds_carb"
	RuleAddedSugars    = "added_sugars_exceed_sugars"
	RuleHighSodium     = "high_sodium"
	RuleEnergyNoMacros = "energy_without_macros"
)

const (
	maxMacroMass        = 105.0
	subsetTolerance     = 0.5
	atwaterMinDiffKcal  = 15.0
	atwaterWarnRatio    = 0.25
	atwaterErrorRatio   = 0.5
	highSodiumMg        = 10000.0
	energyNoMacrosFloor = 50.0
)

var saltyNames = []string{"salt", "soy sauce", "bouillon", "broth", "miso", "fish sauce"}

// RuleValidator is the default Validator.
type RuleValidator struct{}

// NewRuleValidator returns the default rule set.
func NewRuleValidator() RuleValidator { return RuleValidator{} }

func (RuleValidator) Validate(values map[string]float64, productName string) []Finding {
	var out []Finding
	add := func(sev Severity, rule, format string, args ...any) {
		out = append(out, Finding{Severity: sev, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	protein, hasP := values[nutrient.KeyProtein]
	carb, hasC := values[nutrient.KeyCarb]
	fat, hasF := values[nutrient.KeyFat]
	kcal, hasK := values[nutrient.KeyKcal]
	fiber, hasFiber := values[nutrient.KeyFiber]

	if sum := protein + carb + fat; sum > maxMacroMass {
		add(SeverityError, RuleMacroSum, "protein+carb+fat is %.1f g per 100 g (max %.0f)", sum, maxMacroMass)
	}

	if hasK && hasP && hasC && hasF {
		est := AtwaterKcal(protein, carb, fat, fiber)
		diff := math.Abs(kcal - est)
		if ref := math.Max(kcal, est); ref > 0 && diff > atwaterMinDiffKcal {
			ratio := diff / ref
			switch {
			case ratio > atwaterErrorRatio:
				add(SeverityError, RuleAtwater, "energy %.0f kcal differs from macro estimate %.0f kcal by %.0f%%", kcal, est, ratio*100)
			case ratio > atwaterWarnRatio:
				add(SeverityWarning, RuleAtwater, "energy %.0f kcal differs from macro estimate %.0f kcal by %.0f%%", kcal, est, ratio*100)
			}
		}
	}

	if sat, ok := values[nutrient.KeySatFat]; ok && hasF && sat > fat+subsetTolerance {
		add(SeverityError, RuleSatFat, "saturated fat %.2f g exceeds total fat %.2f g", sat, fat)
	}
	sugars, hasSugars := values[nutrient.KeySugars]
	if hasSugars && hasC && sugars > carb+subsetTolerance {
		add(SeverityError, RuleSugars, "sugars %.2f g exceed carbohydrate %.2f g", sugars, carb)
	}
	if hasFiber && hasC && fiber > carb+subsetTolerance {
		add(SeverityError, RuleFiber, "fiber %.2f g exceeds carbohydrate %.2f g", fiber, carb)
	}
	if added, ok := values[nutrient.KeyAddedSugars]; ok && hasSugars && added > sugars+subsetTolerance {
		add(SeverityError, RuleAddedSugars, "added sugars %.2f g exceed total sugars %.2f g", added, sugars)
	}

	if sodium, ok := values[nutrient.KeySodium]; ok && sodium > highSodiumMg && !isSalty(productName) {
		add(SeverityWarning, RuleHighSodium, "sodium %.0f mg per 100 g is unusually high", sodium)
	}

	if hasK && kcal > energyNoMacrosFloor && hasP && hasC && hasF && protein == 0 && carb == 0 && fat == 0 {
		add(SeverityError, RuleEnergyNoMacros, "energy %.0f kcal with zero protein, carbohydrate and fat", kcal)
	}
	return out
}

// AtwaterKcal estimates energy from macros: 4 kcal/g protein and available
// carbohydrate, 2 kcal/g fiber, 9 kcal/g fat.
func AtwaterKcal(protein, carb, fat, fiber float64) float64 {
	fiber = math.Max(0, math.Min(fiber, carb))
	return 4*protein + 4*(carb-fiber) + 2*fiber + 9*fat
}

func isSalty(name string) bool {
	n := strings.ToLower(name)
	for _, s := range saltyNames {
		if strings.Contains(n, s) {
			return true
		}
	}
	return false
}

// HasErrors reports whether any finding is an ERROR.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ErrorMessages returns up to limit ERROR messages in order.
func ErrorMessages(findings []Finding, limit int) []string {
	var out []string
	for _, f := range findings {
		if f.Severity != SeverityError {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, f.Message)
	}
	return out
}

// Truncate returns at most limit findings.
func Truncate(findings []Finding, limit int) []Finding {
	if len(findings) <= limit {
		return findings
	}
	return findings[:limit]
}
