package fdc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
)

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newTestClient(url string) Client {
	return NewClient("test-key", WithBaseURL(url), WithRetryPolicy(fastRetry()), WithRateLimit(1000))
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/foods/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "cooked quinoa", q.Get("query"))
		assert.Equal(t, "5", q.Get("pageSize"))
		assert.Equal(t, []string{"Foundation", "SR Legacy"}, q["dataType"])
		_, _ = w.Write([]byte(`{"totalHits":2,"foods":[
			{"fdcId":168917,"description":"Quinoa, cooked","dataType":"SR Legacy"},
			{"fdcId":2000001,"description":"QUINOA BOWL","dataType":"Branded","brandOwner":"Acme"}]}`))
	}))
	defer srv.Close()

	foods, err := newTestClient(srv.URL).Search(context.Background(), SearchRequest{
		Query:     "cooked quinoa",
		DataTypes: []string{DataTypeFoundation, DataTypeSRLegacy},
		PageSize:  5,
	})
	require.NoError(t, err)
	require.Len(t, foods, 2)
	assert.Equal(t, 168917, foods[0].FDCID)
	assert.Equal(t, "Acme", foods[1].BrandOwner)
}

func TestSearch_EmptyQuery(t *testing.T) {
	foods, err := NewClient("").Search(context.Background(), SearchRequest{Query: "  "})
	require.NoError(t, err)
	assert.Nil(t, foods)
}

func TestFood(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  string
		notFound bool
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{"fdcId":168917,"description":"Quinoa, cooked","dataType":"SR Legacy",
				"foodNutrients":[{"nutrient":{"number":"208","name":"Energy","unitName":"kcal"},"amount":120}]}`,
		},
		{name: "not found", status: http.StatusNotFound, body: `{}`, notFound: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, wantErr: "unexpected status 400"},
		{name: "malformed", status: http.StatusOK, body: `{`, wantErr: "unmarshal response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/food/168917", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			food, err := newTestClient(srv.URL).Food(context.Background(), 168917)
			switch {
			case tt.notFound:
				assert.ErrorIs(t, err, ErrNotFound)
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, "SR Legacy", food.DataType)
				require.Len(t, food.FoodNutrients, 1)
				assert.Equal(t, "208", food.FoodNutrients[0].number())
			}
		})
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"fdcId":1,"dataType":"Foundation"}`))
	}))
	defer srv.Close()

	food, err := newTestClient(srv.URL).Food(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, food.FDCID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_DoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Search(context.Background(), SearchRequest{Query: "oats"})
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resilience.StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
}
