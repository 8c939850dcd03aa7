// Package fdc is a client for the USDA FoodData Central API.
package fdc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
)

const (
	defaultBaseURL  = "https://api.nal.usda.gov/fdc/v1"
	defaultAPIKey   = "DEMO_KEY"
	defaultPageSize = 12
)

// Data types reported by FoodData Central.
const (
	DataTypeFoundation = "Foundation"
	DataTypeSRLegacy   = "SR Legacy"
	DataTypeSurvey     = "Survey (FNDDS)"
	DataTypeBranded    = "Branded"
)

// ErrNotFound is returned for unknown food IDs.
var ErrNotFound = eris.New("fdc: food not found")

// Client searches foods and fetches food details.
type Client interface {
	Search(ctx context.Context, req SearchRequest) ([]SearchFood, error)
	Food(ctx context.Context, fdcID int) (*Food, error)
}

// SearchRequest is the query for GET /foods/search.
type SearchRequest struct {
	Query           string
	DataTypes       []string
	PageSize        int
	RequireAllWords bool
}

// SearchFood is one search hit.
type SearchFood struct {
	FDCID       int    `json:"fdcId"`
	Description string `json:"description"`
	DataType    string `json:"dataType"`
	BrandOwner  string `json:"brandOwner,omitempty"`
	BrandName   string `json:"brandName,omitempty"`
	GTINUPC     string `json:"gtinUpc,omitempty"`
}

// Food is the detail document from GET /food/{fdcId}.
type Food struct {
	FDCID         int            `json:"fdcId"`
	Description   string         `json:"description"`
	DataType      string         `json:"dataType"`
	FoodNutrients []FoodNutrient `json:"foodNutrients"`
}

// FoodNutrient is a nutrient row in either the full or the abridged format.
type FoodNutrient struct {
	Nutrient       *NutrientInfo `json:"nutrient,omitempty"`
	Amount         *float64      `json:"amount,omitempty"`
	NutrientNumber string        `json:"nutrientNumber,omitempty"`
	NutrientName   string        `json:"nutrientName,omitempty"`
	UnitName       string        `json:"unitName,omitempty"`
	Value          *float64      `json:"value,omitempty"`
}

// NutrientInfo describes the nutrient of a full-format row.
type NutrientInfo struct {
	Number   string `json:"number"`
	Name     string `json:"name"`
	UnitName string `json:"unitName"`
}

type searchResponse struct {
	TotalHits int          `json:"totalHits"`
	Foods     []SearchFood `json:"foods"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetryPolicy sets the retry policy. 429 responses are never retried.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates a FoodData Central client. An empty key uses DEMO_KEY.
func NewClient(apiKey string, opts ...Option) Client {
	if apiKey == "" {
		apiKey = defaultAPIKey
	}
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		retry:   resilience.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	c.retry.Retryable = func(err error) bool {
		return resilience.StatusCode(err) != http.StatusTooManyRequests && resilience.IsTransient(err)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetry("fdc")
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]SearchFood, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	q := url.Values{}
	q.Set("query", req.Query)
	q.Set("pageSize", strconv.Itoa(req.PageSize))
	q.Set("requireAllWords", strconv.FormatBool(req.RequireAllWords))
	for _, dt := range req.DataTypes {
		q.Add("dataType", dt)
	}

	var out searchResponse
	if err := c.get(ctx, "/foods/search", q, &out); err != nil {
		return nil, eris.Wrap(err, "fdc: search")
	}
	return out.Foods, nil
}

func (c *httpClient) Food(ctx context.Context, fdcID int) (*Food, error) {
	var out Food
	if err := c.get(ctx, "/food/"+strconv.Itoa(fdcID), url.Values{}, &out); err != nil {
		return nil, eris.Wrapf(err, "fdc: food %d", fdcID)
	}
	return &out, nil
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("api_key", c.apiKey)
	u := c.baseURL + path + "?" + q.Encode()

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "send request")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "read response")
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return &resilience.StatusError{Upstream: "fdc", StatusCode: resp.StatusCode}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
		return nil
	})
}
