// Package openfoodfacts is a small client for the Open Food Facts product API.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
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
	defaultBaseURL   = "https://world.openfoodfacts.org"
	defaultUserAgent = "nutrient-autopilot/1.0"
	productFields    = "code,product_name,brands,nutriments"
)

// ErrNotFound is returned when the database has no product for a barcode.
var ErrNotFound = eris.New("openfoodfacts: product not found")

// Client looks up packaged products by barcode.
type Client interface {
	Product(ctx context.Context, barcode string) (*Product, error)
}

// Product is the subset of an Open Food Facts product the engine reads.
type Product struct {
	Code       string     `json:"code"`
	Name       string     `json:"product_name"`
	Brands     string     `json:"brands"`
	Nutriments Nutriments `json:"nutriments"`
}

// Nutriments holds the raw nutriment fields. Values may be numbers or strings.
type Nutriments map[string]any

// Float returns field as a finite number.
func (n Nutriments) Float(field string) (float64, bool) {
	raw, ok := n[field]
	if !ok || raw == nil {
		return 0, false
	}
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

type productResponse struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Product *Product `json:"product"`
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

// WithUserAgent sets the User-Agent the API asks integrators to send.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
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

// WithRetryPolicy sets the retry policy for transient statuses.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.Policy
}

// NewClient creates an Open Food Facts client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(2), 1),
		retry:     resilience.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetry("openfoodfacts")
	}
	return c
}

func (c *httpClient) Product(ctx context.Context, barcode string) (*Product, error) {
	if barcode == "" {
		return nil, eris.New("openfoodfacts: empty barcode")
	}
	return resilience.RetryValue(ctx, c.retry, func(ctx context.Context) (*Product, error) {
		return c.fetchProduct(ctx, barcode)
	})
}

func (c *httpClient) fetchProduct(ctx context.Context, barcode string) (*Product, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: rate limit wait")
	}

	u := c.baseURL + "/api/v2/product/" + url.PathEscape(barcode) + ".json?fields=" + productFields
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, eris.Wrap(&resilience.StatusError{Upstream: "openfoodfacts", StatusCode: resp.StatusCode}, "openfoodfacts: get product")
	}

	var result productResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: unmarshal response")
	}
	if result.Status != 1 || result.Product == nil {
		return nil, ErrNotFound
	}
	if result.Product.Code == "" {
		result.Product.Code = result.Code
	}
	return result.Product, nil
}

// IsNotFound reports whether err means the barcode is unknown upstream.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
