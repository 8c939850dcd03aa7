package source

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source/fallback"
)

// NameRule maps product names to a canonical ingredient key. A rule matches
// when every AllOf phrase and at least one of Phrases occur in the name. Empty
// groups are ignored.
//
// Phrases match as substrings that start at a word boundary, so "egg" matches
// "eggs" but not "nutmeg", and "cooked" does not match "uncooked". Plain
// substring matching would send "goat cheese" to oats.
//
// A rule with an empty Key stops the search: it names products that contain
// a listed word but have no curated profile, such as plant milks.
type NameRule struct {
	Phrases []string
	AllOf   []string
	Key     string
}

// Matches reports whether the rule applies to an already normalized name.
func (r NameRule) Matches(normalized string) bool {
	if len(r.Phrases) == 0 && len(r.AllOf) == 0 {
		return false
	}
	for _, p := range r.AllOf {
		if !containsPhrase(normalized, p) {
			return false
		}
	}
	if len(r.Phrases) == 0 {
		return true
	}
	for _, p := range r.Phrases {
		if containsPhrase(normalized, p) {
			return true
		}
	}
	return false
}

func containsPhrase(normalized, phrase string) bool {
	return strings.Contains(" "+normalized, " "+phrase)
}

// DefaultNameRules is evaluated top to bottom and the first match wins.
// Compound phrases sit above the single words they contain.
var DefaultNameRules = []NameRule{
	{Phrases: []string{"buttermilk", "oat milk", "oatmilk", "coconut milk", "soy milk", "soymilk", "rice milk", "cashew milk"}},
	{Phrases: []string{"ground beef", "beef mince", "minced beef", "lean beef"}, Key: "beef_ground_lean_cooked"},
	{Phrases: []string{"ground turkey", "turkey mince", "minced turkey"}, Key: "turkey_ground_cooked"},
	{AllOf: []string{"chicken breast"}, Phrases: []string{"cooked", "grilled", "roasted", "baked"}, Key: "chicken_breast_cooked"},
	{Phrases: []string{"chicken breast"}, Key: "chicken_breast_raw"},
	{Phrases: []string{"chicken thigh"}, Key: "chicken_thigh_raw"},
	{Phrases: []string{"turkey breast", "turkey"}, Key: "turkey_breast_roasted"},
	{Phrases: []string{"pork tenderloin", "pork loin"}, Key: "pork_tenderloin_cooked"},
	{Phrases: []string{"bacon"}, Key: "bacon_cooked"},
	{Phrases: []string{"salmon"}, Key: "salmon_atlantic_cooked"},
	{Phrases: []string{"tuna"}, Key: "tuna_light_canned_water"},
	{Phrases: []string{"shrimp", "prawn"}, Key: "shrimp_cooked"},
	{Phrases: []string{"egg white"}, Key: "egg_white_raw"},
	{Phrases: []string{"eggplant", "aubergine"}, Key: "eggplant_raw"},
	{Phrases: []string{"egg"}, Key: "egg_whole_raw"},
	{Phrases: []string{"tofu"}, Key: "tofu_firm"},
	{Phrases: []string{"greek yogurt", "greek yoghurt"}, Key: "yogurt_greek_plain_nonfat"},
	{Phrases: []string{"yogurt", "yoghurt"}, Key: "yogurt_plain_whole"},
	{Phrases: []string{"almond milk"}, Key: "almond_milk_unsweetened"},
	{Phrases: []string{"cottage cheese"}, Key: "cottage_cheese_lowfat"},
	{Phrases: []string{"mozzarella"}, Key: "mozzarella_part_skim"},
	{Phrases: []string{"cheddar"}, Key: "cheddar_cheese"},
	{Phrases: []string{"peanut butter"}, Key: "peanut_butter"},
	{Phrases: []string{"butter"}, Key: "butter_salted"},
	{Phrases: []string{"milk"}, Key: "milk_whole"},
	{Phrases: []string{"olive oil"}, Key: "olive_oil"},
	{Phrases: []string{"almond"}, Key: "almonds_raw"},
	{Phrases: []string{"walnut"}, Key: "walnuts_raw"},
	{Phrases: []string{"rolled oats", "oatmeal", "oat"}, Key: "oats_rolled_dry"},
	{Phrases: []string{"quinoa"}, Key: "quinoa_cooked"},
	{Phrases: []string{"brown rice"}, Key: "rice_brown_cooked"},
	{Phrases: []string{"rice"}, Key: "rice_white_cooked"},
	{Phrases: []string{"pasta", "spaghetti", "penne", "macaroni"}, Key: "pasta_cooked"},
	{Phrases: []string{"bread"}, Key: "bread_whole_wheat"},
	{Phrases: []string{"black bean"}, Key: "black_beans_cooked"},
	{Phrases: []string{"green bean", "string bean"}, Key: "green_beans_raw"},
	{Phrases: []string{"chickpea", "garbanzo"}, Key: "chickpeas_cooked"},
	{Phrases: []string{"lentil"}, Key: "lentils_cooked"},
	{Phrases: []string{"sweet potato"}, Key: "sweet_potato_baked"},
	{Phrases: []string{"potato"}, Key: "potato_baked"},
	{Phrases: []string{"broccoli"}, Key: "broccoli_raw"},
	{Phrases: []string{"spinach"}, Key: "spinach_raw"},
	{Phrases: []string{"kale"}, Key: "kale_raw"},
	{Phrases: []string{"carrot"}, Key: "carrots_raw"},
	{Phrases: []string{"tomato"}, Key: "tomatoes_raw"},
	{Phrases: []string{"onion"}, Key: "onions_raw"},
	{Phrases: []string{"bell pepper", "red pepper"}, Key: "bell_pepper_red_raw"},
	{Phrases: []string{"zucchini", "courgette"}, Key: "zucchini_raw"},
	{Phrases: []string{"asparagus"}, Key: "asparagus_raw"},
	{Phrases: []string{"cauliflower"}, Key: "cauliflower_raw"},
	{Phrases: []string{"avocado"}, Key: "avocado_raw"},
	{Phrases: []string{"banana"}, Key: "banana_raw"},
	{Phrases: []string{"pineapple"}, Key: "pineapple_raw"},
	{Phrases: []string{"apple"}, Key: "apple_raw"},
	{Phrases: []string{"blueberr"}, Key: "blueberries_raw"},
	{Phrases: []string{"strawberr"}, Key: "strawberries_raw"},
	{Phrases: []string{"orange"}, Key: "orange_raw"},
	{Phrases: []string{"beef", "steak"}, Key: "beef_raw"},
}

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName folds accents, lower-cases, collapses non-alphanumeric runs
// to one space and trims.
func NormalizeName(name string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, name)
	if err != nil {
		folded = name
	}
	return strings.TrimSpace(nonAlnumRun.ReplaceAllString(strings.ToLower(folded), " "))
}

// MatchName returns the key of the first rule matching name. It returns ""
// when no rule matches or the first match is a stop rule.
func MatchName(rules []NameRule, name string) string {
	normalized := NormalizeName(name)
	if normalized == "" {
		return ""
	}
	for _, r := range rules {
		if r.Matches(normalized) {
			return r.Key
		}
	}
	return ""
}

// NameMatchSource infers an ingredient from the product name and serves the
// curated profile for it. It is a last resort.
type NameMatchSource struct {
	table *fallback.Table
	rules []NameRule
}

// NewNameMatchSource creates a name matcher. Nil rules use DefaultNameRules.
func NewNameMatchSource(table *fallback.Table, rules []NameRule) *NameMatchSource {
	if rules == nil {
		rules = DefaultNameRules
	}
	return &NameMatchSource{table: table, rules: rules}
}

func (s *NameMatchSource) Method() Method { return MethodNameMatch }

func (s *NameMatchSource) Gather(_ context.Context, p model.CatalogProduct) (*Candidate, error) {
	for _, name := range []string{p.Name, p.IngredientName} {
		key := MatchName(s.rules, name)
		if key == "" {
			continue
		}
		entry, ok := s.table.Get(key)
		if !ok {
			continue
		}
		return &Candidate{
			Method:        MethodNameMatch,
			SourceType:    model.SourceDerived,
			EvidenceGrade: model.GradeInferredFromName,
			Confidence:    ConfidenceNameMatch,
			SourceRef:     "name-match:" + key + "|fdc:" + strconv.Itoa(entry.FDCID),
			Nutrients:     entry.Nutrients,
		}, nil
	}
	return nil, nil
}
