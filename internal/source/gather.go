package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
)

// Gather outcomes reported to an Observer.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Observer receives one call per source attempt.
type Observer func(method Method, outcome string, elapsed time.Duration)

// Gatherer runs the redundant sources concurrently and the last-resort source
// only when they all come back empty. Source failures never propagate.
type Gatherer struct {
	redundant  []Source
	lastResort Source
	limit      int
	observe    Observer
}

// GathererOption configures a Gatherer.
type GathererOption func(*Gatherer)

// WithConcurrency bounds how many redundant sources run at once.
func WithConcurrency(n int) GathererOption {
	return func(g *Gatherer) {
		if n > 0 {
			g.limit = n
		}
	}
}

// WithObserver registers a per-attempt callback.
func WithObserver(o Observer) GathererOption {
	return func(g *Gatherer) { g.observe = o }
}

// NewGatherer creates a Gatherer. redundant is in precedence order; lastResort
// may be nil.
func NewGatherer(redundant []Source, lastResort Source, opts ...GathererOption) *Gatherer {
	g := &Gatherer{
		redundant:  redundant,
		lastResort: lastResort,
		limit:      len(redundant),
	}
	for _, o := range opts {
		o(g)
	}
	if g.limit < 1 {
		g.limit = 1
	}
	return g
}

// Redundant attempts every redundant source and returns the candidates in
// precedence order.
func (g *Gatherer) Redundant(ctx context.Context, p model.CatalogProduct) []*Candidate {
	results := make([]*Candidate, len(g.redundant))

	var eg errgroup.Group
	eg.SetLimit(g.limit)
	for i, src := range g.redundant {
		eg.Go(func() error {
			results[i] = g.attempt(ctx, src, p)
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]*Candidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// LastResort runs the last-resort source, or returns nil when there is none.
func (g *Gatherer) LastResort(ctx context.Context, p model.CatalogProduct) *Candidate {
	if g.lastResort == nil {
		return nil
	}
	return g.attempt(ctx, g.lastResort, p)
}

// Reset clears per-sweep caches held by the sources.
func (g *Gatherer) Reset() {
	all := make([]Source, 0, len(g.redundant)+1)
	all = append(all, g.redundant...)
	all = append(all, g.lastResort)
	for _, src := range all {
		if r, ok := src.(Resetter); ok {
			r.Reset()
		}
	}
}

func (g *Gatherer) attempt(ctx context.Context, src Source, p model.CatalogProduct) (c *Candidate) {
	start := time.Now()
	method := src.Method()
	log := zap.L().With(
		zap.String("component", "source"),
		zap.String("method", string(method)),
		zap.String("product_id", p.ID),
	)

	outcome := OutcomeMiss
	defer func() {
		if r := recover(); r != nil {
			log.Error("source: panic", zap.Any("panic", r))
			c = nil
			outcome = OutcomeError
		}
		if g.observe != nil {
			g.observe(method, outcome, time.Since(start))
		}
	}()

	cand, err := src.Gather(ctx, p)
	switch {
	case errors.Is(err, ErrNoBarcode), errors.Is(err, resilience.ErrCircuitOpen):
		log.Debug("source: skipped", zap.Error(err))
		outcome = OutcomeSkipped
		return nil
	case err != nil:
		log.Warn("source: lookup failed", zap.Error(err))
		outcome = OutcomeError
		return nil
	case cand == nil:
		return nil
	}

	if cand.Method == "" {
		cand.Method = method
	}
	outcome = OutcomeHit
	log.Debug("source: candidate",
		zap.Float64("confidence", cand.Confidence),
		zap.Int("nutrients", len(cand.Nutrients)),
		zap.String("source_ref", cand.SourceRef),
	)
	return cand
}

// JoinMethods renders the candidates' methods as "barcode+fallback".
func JoinMethods(cands []*Candidate) string {
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = string(c.Method)
	}
	return strings.Join(parts, "+")
}
