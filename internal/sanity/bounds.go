// Package sanity enforces physical plausibility on per-100g nutrient profiles:
// hard per-nutrient bounds and cross-nutrient consistency rules.
package sanity

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
)

// Bound is the inclusive per-100g range for one nutrient.
type Bound struct {
	Min float64
	Max float64
}

// Bounds holds the hard limit for every canonical key. Nothing edible can
// exceed these per 100 g.
var Bounds = map[string]Bound{
	nutrient.KeyKcal:        {0, 900},
	nutrient.KeyProtein:     {0, 100},
	nutrient.KeyCarb:        {0, 100},
	nutrient.KeyFat:         {0, 100},
	nutrient.KeyFiber:       {0, 100},
	nutrient.KeySugars:      {0, 100},
	nutrient.KeyAddedSugars: {0, 100},
	nutrient.KeySatFat:      {0, 100},
	nutrient.KeyTransFat:    {0, 100},
	"cholesterol_mg":        {0, 3100},
	nutrient.KeySodium:      {0, 40000},
	nutrient.KeyVitaminD:    {0, 500},
	"calcium_mg":            {0, 4000},
	"iron_mg":               {0, 200},
	"potassium_mg":          {0, 20000},
	nutrient.KeyVitaminA:    {0, 35000},
	"vitamin_c_mg":          {0, 3000},
	"vitamin_e_mg":          {0, 200},
	"vitamin_k_mcg":         {0, 2000},
	"thiamin_mg":            {0, 50},
	"riboflavin_mg":         {0, 50},
	"niacin_mg":             {0, 200},
	"vitamin_b6_mg":         {0, 50},
	"folate_mcg":            {0, 5000},
	"vitamin_b12_mcg":       {0, 200},
	"biotin_mcg":            {0, 2000},
	"pantothenic_acid_mg":   {0, 100},
	"phosphorus_mg":         {0, 5000},
	"iodine_mcg":            {0, 10000},
	"magnesium_mg":          {0, 2000},
	"zinc_mg":               {0, 200},
	"selenium_mcg":          {0, 2000},
	"copper_mg":             {0, 100},
	"manganese_mg":          {0, 300},
	"chromium_mcg":          {0, 1000},
	"molybdenum_mcg":        {0, 2000},
	"chloride_mg":           {0, 61000},
	"choline_mg":            {0, 3000},
	nutrient.KeyOmega3:      {0, 100},
	nutrient.KeyOmega6:      {0, 100},
}

// Drop reasons.
const (
	ReasonUnknown    = "unknown nutrient"
	ReasonNotFinite  = "not finite"
	ReasonOutOfRange = "out of range"
)

// Dropped is a value removed by Filter.
type Dropped struct {
	Key    string  `json:"key"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// Check reports whether value is acceptable for key, and the reason when not.
func Check(key string, value float64) (bool, string) {
	b, ok := Bounds[key]
	if !ok {
		return false, ReasonUnknown
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false, ReasonNotFinite
	}
	if value < b.Min || value > b.Max {
		return false, ReasonOutOfRange
	}
	return true, ""
}

// Filter splits values into those within bounds and those dropped. Dropped
// values are logged at WARN; their siblings are kept. The input is not
// modified.
func Filter(productID string, values map[string]float64) (map[string]float64, []Dropped) {
	kept := make(map[string]float64, len(values))
	var dropped []Dropped

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := values[k]
		if ok, reason := Check(k, v); !ok {
			dropped = append(dropped, Dropped{Key: k, Value: v, Reason: reason})
			zap.L().Warn("sanity: dropping implausible value",
				zap.String("product_id", productID),
				zap.String("nutrient", k),
				zap.Float64("value", v),
				zap.String("reason", reason),
			)
			continue
		}
		kept[k] = v
	}
	return kept, dropped
}
