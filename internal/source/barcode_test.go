package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/openfoodfacts"
)

func strPtr(s string) *string { return &s }

func TestNormalizeBarcode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0 12345-67890 5", "012345678905"},
		{"12345678", "12345678"},
		{"1234567", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBarcode(tt.in), tt.in)
	}
}

func TestExtractBarcodeNutrients(t *testing.T) {
	tests := []struct {
		name  string
		in    openfoodfacts.Nutriments
		check func(t *testing.T, got map[string]float64)
	}{
		{
			name: "kj only",
			in:   openfoodfacts.Nutriments{"energy-kj_100g": 836.0},
			check: func(t *testing.T, got map[string]float64) {
				assert.InDelta(t, 199.8, got["kcal"], 0.05)
			},
		},
		{
			name: "kcal preferred over kj",
			in:   openfoodfacts.Nutriments{"energy-kj_100g": 836.0, "energy-kcal_100g": 201.0},
			check: func(t *testing.T, got map[string]float64) {
				assert.Equal(t, 201.0, got["kcal"])
			},
		},
		{
			name: "zero energy dropped",
			in:   openfoodfacts.Nutriments{"energy-kcal_100g": 0.0},
			check: func(t *testing.T, got map[string]float64) {
				assert.NotContains(t, got, "kcal")
			},
		},
		{
			name: "salt to sodium",
			in:   openfoodfacts.Nutriments{"salt_100g": 1.0},
			check: func(t *testing.T, got map[string]float64) {
				assert.InDelta(t, 393.4, got["sodium_mg"], 1e-9)
			},
		},
		{
			name: "sodium grams to mg beats salt",
			in:   openfoodfacts.Nutriments{"sodium_100g": 0.4, "salt_100g": 1.0},
			check: func(t *testing.T, got map[string]float64) {
				assert.InDelta(t, 400, got["sodium_mg"], 1e-9)
			},
		},
		{
			name: "string values and unit conversion",
			in: openfoodfacts.Nutriments{
				"proteins_100g":      "12.5",
				"calcium_100g":       0.12,
				"vitamin-d_100g":     0.0000025,
				"fiber_100g":         3.0,
				"saturated-fat_100g": -1.0,
			},
			check: func(t *testing.T, got map[string]float64) {
				assert.Equal(t, 12.5, got["protein_g"])
				assert.InDelta(t, 120, got["calcium_mg"], 1e-9)
				assert.InDelta(t, 2.5, got["vitamin_d_mcg"], 1e-9)
				assert.Equal(t, 3.0, got["fiber_g"])
				assert.NotContains(t, got, "sat_fat_g")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ExtractBarcodeNutrients(tt.in))
		})
	}
}

func offServer(t *testing.T, calls *atomic.Int32, bodies map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		code := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v2/product/"), ".json")
		body, ok := bodies[code]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if body == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
}

func newBarcodeSource(url string) *BarcodeSource {
	client := openfoodfacts.NewClient(
		openfoodfacts.WithBaseURL(url),
		openfoodfacts.WithRateLimit(1000),
		openfoodfacts.WithRetryPolicy(resilience.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
	return NewBarcodeSource(client, time.Second)
}

func TestBarcodeSource_Gather(t *testing.T) {
	var calls atomic.Int32
	srv := offServer(t, &calls, map[string]string{
		"11111111": `{"status":1,"product":{"nutriments":{"energy-kcal_100g":250,"proteins_100g":10,"carbohydrates_100g":30,"fat_100g":10,"sodium_100g":0.5}}}`,
		"22222222": `{"status":1,"product":{"nutriments":{"energy-kcal_100g":250,"proteins_100g":10}}}`,
		"33333333": `{"status":1,"product":{"nutriments":{"proteins_100g":10,"sugars_100g":2}}}`,
		"44444444": `{"status":0,"status_verbose":"product not found"}`,
		"55555555": "500",
	})
	defer srv.Close()
	src := newBarcodeSource(srv.URL)
	ctx := context.Background()

	t.Run("all core macros", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p1", Barcode: strPtr("1111-1111")})
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, MethodBarcode, c.Method)
		assert.Equal(t, ConfidenceBarcodeFull, c.Confidence)
		assert.Equal(t, model.GradeBarcodeDatabase, c.EvidenceGrade)
		assert.Equal(t, model.SourceManufacturer, c.SourceType)
		assert.Equal(t, "https://world.openfoodfacts.org/product/11111111", c.SourceRef)
		assert.InDelta(t, 500, c.Nutrients["sodium_mg"], 1e-9)
	})

	t.Run("two core macros", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p2", Barcode: strPtr("22222222")})
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, ConfidenceBarcodePartial, c.Confidence)
	})

	t.Run("one core macro is discarded", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p3", Barcode: strPtr("33333333")})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("status zero", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p4", Barcode: strPtr("44444444")})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("not found", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p5", Barcode: strPtr("99999999")})
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("server error", func(t *testing.T) {
		c, err := src.Gather(ctx, model.CatalogProduct{ID: "p6", Barcode: strPtr("55555555")})
		require.Error(t, err)
		assert.Nil(t, c)
	})

	t.Run("no barcode", func(t *testing.T) {
		_, err := src.Gather(ctx, model.CatalogProduct{ID: "p7"})
		assert.ErrorIs(t, err, ErrNoBarcode)
		_, err = src.Gather(ctx, model.CatalogProduct{ID: "p8", Barcode: strPtr("123")})
		assert.ErrorIs(t, err, ErrNoBarcode)
	})
}

func TestBarcodeSource_CachesUntilReset(t *testing.T) {
	var calls atomic.Int32
	srv := offServer(t, &calls, map[string]string{
		"11111111": `{"status":1,"product":{"nutriments":{"energy-kcal_100g":250,"proteins_100g":10,"carbohydrates_100g":30,"fat_100g":10}}}`,
	})
	defer srv.Close()
	src := newBarcodeSource(srv.URL)
	p := model.CatalogProduct{ID: "p1", Barcode: strPtr("11111111")}

	first, err := src.Gather(context.Background(), p)
	require.NoError(t, err)
	first.Nutrients["kcal"] = 1

	second, err := src.Gather(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 250.0, second.Nutrients["kcal"], "cached candidate is not shared")
	assert.Equal(t, int32(1), calls.Load())

	src.Reset()
	_, err = src.Gather(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
