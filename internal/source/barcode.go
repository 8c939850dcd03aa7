package source

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/openfoodfacts"
)

// DefaultSourceTimeout bounds each upstream lookup.
const DefaultSourceTimeout = 8 * time.Second

const minBarcodeDigits = 8

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizeBarcode strips everything but digits. Codes shorter than eight
// digits are not usable and yield "".
func NormalizeBarcode(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < minBarcodeDigits {
		return ""
	}
	return digits
}

// offFields maps Open Food Facts per-100g nutriment fields to canonical keys.
// Energy and sodium are handled separately.
var offFields = map[string]string{
	"proteins_100g":         nutrient.KeyProtein,
	"carbohydrates_100g":    nutrient.KeyCarb,
	"fat_100g":              nutrient.KeyFat,
	"fiber_100g":            nutrient.KeyFiber,
	"sugars_100g":           nutrient.KeySugars,
	"added-sugars_100g":     nutrient.KeyAddedSugars,
	"saturated-fat_100g":    nutrient.KeySatFat,
	"trans-fat_100g":        nutrient.KeyTransFat,
	"cholesterol_100g":      "cholesterol_mg",
	"vitamin-d_100g":        nutrient.KeyVitaminD,
	"calcium_100g":          "calcium_mg",
	"iron_100g":             "iron_mg",
	"potassium_100g":        "potassium_mg",
	"vitamin-a_100g":        nutrient.KeyVitaminA,
	"vitamin-c_100g":        "vitamin_c_mg",
	"vitamin-e_100g":        "vitamin_e_mg",
	"vitamin-k_100g":        "vitamin_k_mcg",
	"vitamin-b1_100g":       "thiamin_mg",
	"vitamin-b2_100g":       "riboflavin_mg",
	"vitamin-pp_100g":       "niacin_mg",
	"vitamin-b6_100g":       "vitamin_b6_mg",
	"folates_100g":          "folate_mcg",
	"vitamin-b12_100g":      "vitamin_b12_mcg",
	"biotin_100g":           "biotin_mcg",
	"pantothenic-acid_100g": "pantothenic_acid_mg",
	"phosphorus_100g":       "phosphorus_mg",
	"iodine_100g":           "iodine_mcg",
	"magnesium_100g":        "magnesium_mg",
	"zinc_100g":             "zinc_mg",
	"selenium_100g":         "selenium_mcg",
	"copper_100g":           "copper_mg",
	"manganese_100g":        "manganese_mg",
	"chromium_100g":         "chromium_mcg",
	"molybdenum_100g":       "molybdenum_mcg",
	"chloride_100g":         "chloride_mg",
	"choline_100g":          "choline_mg",
	"omega-3-fat_100g":      nutrient.KeyOmega3,
	"omega-6-fat_100g":      nutrient.KeyOmega6,
}

// ExtractBarcodeNutrients maps Open Food Facts nutriments to canonical keys.
// Per-100g mass fields are reported in grams upstream and are converted to
// each key's unit. Energy must be positive; everything else non-negative.
func ExtractBarcodeNutrients(n openfoodfacts.Nutriments) map[string]float64 {
	out := make(map[string]float64)

	if kcal, ok := n.Float("energy-kcal_100g"); ok && kcal > 0 {
		out[nutrient.KeyKcal] = kcal
	} else if kj, ok := n.Float("energy-kj_100g"); ok && kj > 0 {
		out[nutrient.KeyKcal] = nutrient.KcalFromKJ(kj)
	}

	if sodium, ok := n.Float("sodium_100g"); ok && sodium >= 0 {
		out[nutrient.KeySodium] = sodium * 1000
	} else if salt, ok := n.Float("salt_100g"); ok && salt >= 0 {
		out[nutrient.KeySodium] = nutrient.SodiumFromSalt(salt)
	}

	for field, key := range offFields {
		v, ok := n.Float(field)
		if !ok || v < 0 {
			continue
		}
		converted, ok := nutrient.Convert(key, v, "g")
		if !ok {
			continue
		}
		out[key] = converted
	}
	return out
}

// BarcodeSource looks products up in Open Food Facts by barcode. Responses
// are cached per barcode until Reset.
type BarcodeSource struct {
	client  openfoodfacts.Client
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]*Candidate
}

// NewBarcodeSource creates a barcode source. A zero timeout uses
// DefaultSourceTimeout.
func NewBarcodeSource(client openfoodfacts.Client, timeout time.Duration) *BarcodeSource {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &BarcodeSource{
		client:  client,
		timeout: timeout,
		cache:   make(map[string]*Candidate),
	}
}

func (s *BarcodeSource) Method() Method { return MethodBarcode }

// Reset drops cached lookups.
func (s *BarcodeSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*Candidate)
}

func (s *BarcodeSource) Gather(ctx context.Context, p model.CatalogProduct) (*Candidate, error) {
	code := NormalizeBarcode(p.BarcodeValue())
	if code == "" {
		return nil, ErrNoBarcode
	}

	s.mu.Lock()
	cached, ok := s.cache[code]
	s.mu.Unlock()
	if ok {
		return cloneCandidate(cached), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	product, err := s.client.Product(ctx, code)
	switch {
	case errors.Is(err, openfoodfacts.ErrNotFound):
		s.store(code, nil)
		return nil, nil
	case err != nil:
		// Not cached: a later product with the same code may succeed.
		return nil, err
	}

	c := barcodeCandidate(code, product.Nutriments)
	if c == nil {
		zap.L().Debug("source: barcode candidate lacks core macros",
			zap.String("product_id", p.ID),
			zap.String("barcode", code),
		)
	}
	s.store(code, c)
	return cloneCandidate(c), nil
}

func (s *BarcodeSource) store(code string, c *Candidate) {
	s.mu.Lock()
	s.cache[code] = c
	s.mu.Unlock()
}

func barcodeCandidate(code string, n openfoodfacts.Nutriments) *Candidate {
	values := ExtractBarcodeNutrients(n)
	core := nutrient.CountCore(values)
	if core < 2 {
		return nil
	}
	conf := ConfidenceBarcodePartial
	if core == len(nutrient.CoreKeys) {
		conf = ConfidenceBarcodeFull
	}
	return &Candidate{
		Method:        MethodBarcode,
		SourceType:    model.SourceManufacturer,
		EvidenceGrade: model.GradeBarcodeDatabase,
		Confidence:    conf,
		SourceRef:     "https://world.openfoodfacts.org/product/" + code,
		Nutrients:     values,
	}
}

func cloneCandidate(c *Candidate) *Candidate {
	if c == nil {
		return nil
	}
	out := *c
	out.Nutrients = make(map[string]float64, len(c.Nutrients))
	for k, v := range c.Nutrients {
		out.Nutrients[k] = v
	}
	return &out
}
