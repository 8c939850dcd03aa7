package fdc

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
)

// Match is the best food for a query with its mapped nutrients.
type Match struct {
	FDCID       int
	Description string
	DataType    string
	Nutrients   map[string]float64
}

// IsGeneric reports whether the match comes from a generic (non-branded) dataset.
func (m Match) IsGeneric() bool {
	return m.DataType == DataTypeFoundation || m.DataType == DataTypeSRLegacy
}

// SourceRef returns the public detail page for a food.
func SourceRef(fdcID int) string {
	return "https://fdc.nal.usda.gov/fdc-app.html#/food-details/" + strconv.Itoa(fdcID) + "/nutrients"
}

// genericFirst is the data type filter for name searches.
var genericFirst = []string{DataTypeFoundation, DataTypeSRLegacy, DataTypeSurvey, DataTypeBranded}

// Matcher searches FoodData Central and picks the best food for a barcode or
// a product name.
// A 429 from the API opens the breaker so later lookups fail fast.
type Matcher struct {
	client   Client
	breaker  *resilience.Breaker
	pageSize int

	mu       sync.Mutex
	searches map[string][]SearchFood
	foods    map[int]*Food
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithBreaker sets the circuit breaker guarding the API.
func WithBreaker(b *resilience.Breaker) MatcherOption {
	return func(m *Matcher) { m.breaker = b }
}

// WithPageSize sets how many search hits are ranked.
func WithPageSize(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// NewMatcher creates a Matcher over client.
func NewMatcher(client Client, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		client:   client,
		pageSize: defaultPageSize,
		searches: make(map[string][]SearchFood),
		foods:    make(map[int]*Food),
	}
	for _, o := range opts {
		o(m)
	}
	if m.breaker == nil {
		m.breaker = resilience.NewBreaker("fdc", 5, 0)
	}
	return m
}

// Reset drops cached search and detail responses.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = make(map[string][]SearchFood)
	m.foods = make(map[int]*Food)
}

// SearchAndGetBestMatch returns the best ranked food for query, or nil when
// the search has no hits.
func (m *Matcher) SearchAndGetBestMatch(ctx context.Context, query string) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	foods, err := m.search(ctx, SearchRequest{Query: query, DataTypes: genericFirst, PageSize: m.pageSize})
	if err != nil {
		return nil, err
	}
	ranked := Rank(query, foods)
	if len(ranked) == 0 {
		return nil, nil
	}
	return m.match(ctx, ranked[0])
}

// MatchByUPC searches branded foods for a barcode and returns the food whose
// GTIN is the same code, or nil when no hit carries it.
func (m *Matcher) MatchByUPC(ctx context.Context, upc string) (*Match, error) {
	upc = digitsOnly(upc)
	if upc == "" {
		return nil, nil
	}

	foods, err := m.search(ctx, SearchRequest{
		Query:           upc,
		DataTypes:       []string{DataTypeBranded},
		PageSize:        m.pageSize,
		RequireAllWords: true,
	})
	if err != nil {
		return nil, err
	}
	for _, f := range foods {
		if SameGTIN(f.GTINUPC, upc) {
			return m.match(ctx, f)
		}
	}
	return nil, nil
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

func digitsOnly(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// SameGTIN reports whether two barcodes name the same item. GTIN-14 and
// UPC-A forms of one code differ only in leading zeros.
func SameGTIN(a, b string) bool {
	a = strings.TrimLeft(digitsOnly(a), "0")
	b = strings.TrimLeft(digitsOnly(b), "0")
	return a != "" && a == b
}

func (m *Matcher) match(ctx context.Context, hit SearchFood) (*Match, error) {
	food, err := m.food(ctx, hit.FDCID)
	if err != nil {
		return nil, err
	}
	dataType := food.DataType
	if dataType == "" {
		dataType = hit.DataType
	}
	desc := food.Description
	if desc == "" {
		desc = hit.Description
	}
	return &Match{
		FDCID:       hit.FDCID,
		Description: desc,
		DataType:    dataType,
		Nutrients:   MapNutrients(food.FoodNutrients),
	}, nil
}

func (m *Matcher) search(ctx context.Context, req SearchRequest) ([]SearchFood, error) {
	key := strings.Join(req.DataTypes, ",") + "|" + strings.ToLower(req.Query)
	m.mu.Lock()
	cached, ok := m.searches[key]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	foods, err := guarded(ctx, m.breaker, func(ctx context.Context) ([]SearchFood, error) {
		return m.client.Search(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.searches[key] = foods
	m.mu.Unlock()
	return foods, nil
}

func (m *Matcher) food(ctx context.Context, id int) (*Food, error) {
	m.mu.Lock()
	cached, ok := m.foods[id]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	food, err := guarded(ctx, m.breaker, func(ctx context.Context) (*Food, error) {
		return m.client.Food(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.foods[id] = food
	m.mu.Unlock()
	return food, nil
}

func guarded[T any](ctx context.Context, b *resilience.Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := resilience.Call(ctx, b, fn)
	if resilience.StatusCode(err) == http.StatusTooManyRequests {
		zap.L().Warn("fdc: rate limited, skipping for the rest of the run")
		b.Trip()
	}
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		return v, eris.Wrap(err, "fdc: match")
	}
	return v, err
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeText(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// Score ranks a search hit against a free-text query: token overlap with the
// description, a bonus for generic datasets, and a bonus when the brand
// appears in the query.
func Score(query string, food SearchFood) float64 {
	q := normalizeText(query)
	desc := strings.Fields(normalizeText(food.Description))
	descSet := make(map[string]bool, len(desc))
	for _, tok := range desc {
		descSet[tok] = true
	}

	points := 0.0
	seen := map[string]bool{}
	for _, tok := range strings.Fields(q) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if descSet[tok] {
			points += 1.2
		}
	}
	if food.DataType == DataTypeFoundation || food.DataType == DataTypeSRLegacy {
		points += 1.5
	}
	brand := food.BrandOwner
	if brand == "" {
		brand = food.BrandName
	}
	if b := normalizeText(brand); b != "" && strings.Contains(q, b) {
		points += 1.0
	}
	return points
}

// Rank orders foods by Score, highest first. Ties keep search order.
func Rank(query string, foods []SearchFood) []SearchFood {
	ranked := make([]SearchFood, len(foods))
	copy(ranked, foods)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Score(query, ranked[i]) > Score(query, ranked[j])
	})
	return ranked
}
