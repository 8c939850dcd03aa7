package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/metrics"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/store"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSweeper) Running() bool {
	return m.Called().Bool(0)
}

func (m *mockSweeper) Last() *sweep.Summary {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*sweep.Summary)
}

func (m *mockSweeper) ResolveOne(ctx context.Context, productID string) (*sweep.ProductResult, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sweep.ProductResult), args.Error(1)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	sw := new(mockSweeper)
	sw.On("Running").Return(true)
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	body := decode(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["sweepRunning"])
}

type ctxKey struct{}

func TestStartSweep(t *testing.T) {
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	sw := new(mockSweeper)
	sw.On("Start", base).Return(nil).Once()
	h := New(base, sw, nil, nil).Router()

	rr := do(t, h, http.MethodPost, "/sweeps")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "accepted", decode(t, rr)["status"])
	sw.AssertExpectations(t)
}

func TestStartSweep_Conflict(t *testing.T) {
	sw := new(mockSweeper)
	sw.On("Start", mock.Anything).Return(eris.Wrap(sweep.ErrAlreadyRunning, "wrapped"))
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodPost, "/sweeps")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestStartSweep_Error(t *testing.T) {
	sw := new(mockSweeper)
	sw.On("Start", mock.Anything).Return(errors.New("boom"))
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodPost, "/sweeps")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "boom", decode(t, rr)["error"])
}

func TestLatestSweep(t *testing.T) {
	sw := new(mockSweeper)
	sw.On("Last").Return(nil).Once()
	sw.On("Last").Return(&sweep.Summary{RunID: "sweep-20260301T120000Z", Status: sweep.SweepOK}).Once()
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodGet, "/sweeps/latest")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/sweeps/latest")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "sweep-20260301T120000Z", body["runId"])
	assert.Equal(t, "ok", body["status"])
}

func TestResolveProduct(t *testing.T) {
	sw := new(mockSweeper)
	sw.On("ResolveOne", mock.Anything, "p1").Return(&sweep.ProductResult{
		ProductID: "p1", Status: sweep.StatusResolved, Method: "fallback", Written: 4,
	}, nil)
	sw.On("ResolveOne", mock.Anything, "nope").Return(nil, eris.Wrap(store.ErrNotFound, "sweep: get product nope"))
	sw.On("ResolveOne", mock.Anything, "bad").Return(nil, errors.New("db down"))
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodPost, "/products/p1/resolve")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, 4.0, body["written"])

	rr = do(t, h, http.MethodPost, "/products/nope/resolve")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "nope", decode(t, rr)["productId"])

	rr = do(t, h, http.MethodPost, "/products/bad/resolve")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ProductProcessed(sweep.StatusResolved)
	h := New(context.Background(), new(mockSweeper), m.Handler(), nil).Router()

	rr := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `nutrient_autopilot_products_total{outcome="resolved"} 1`)

	rr = do(t, New(context.Background(), new(mockSweeper), nil, nil).Router(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := New(context.Background(), new(mockSweeper), nil, []string{"https://ops.example.com"}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/sweeps", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://ops.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(context.Background(), new(mockSweeper), nil, nil).Router()
	rr := do(t, h, http.MethodGet, "/sweeps")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_WithRealSweeper(t *testing.T) {
	sw := sweep.New(emptyCatalog{}, nil, nil, sweep.Options{})
	h := New(context.Background(), sw, nil, nil).Router()

	rr := do(t, h, http.MethodPost, "/sweeps")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Eventually(t, func() bool { return sw.Last() != nil && !sw.Running() }, 2*time.Second, 10*time.Millisecond)

	rr = do(t, h, http.MethodGet, "/sweeps/latest")
	assert.Equal(t, http.StatusOK, rr.Code)
}

type emptyCatalog struct{}

func (emptyCatalog) ListCatalogProducts(context.Context, string) ([]model.CatalogProduct, error) {
	return nil, nil
}

func (emptyCatalog) GetCatalogProduct(context.Context, string) (*model.CatalogProduct, error) {
	return nil, store.ErrNotFound
}

func (emptyCatalog) NutrientDefinitions(context.Context) ([]model.NutrientDefinition, error) {
	return nil, nil
}

func (emptyCatalog) UpsertNutrientValues(context.Context, []model.NutrientValue) (store.UpsertResult, error) {
	return store.UpsertResult{}, nil
}
