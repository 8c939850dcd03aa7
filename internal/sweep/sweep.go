// Package sweep drives a resolution pass over the catalog: every product
// missing a core macro is resolved, filtered, persisted and queued for review.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/consensus"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/metrics"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/model"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/nutrient"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sanity"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/store"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/verify"
)

// ImplausibleConfidenceCap bounds the confidence of a written profile that
// still has ERROR findings.
const ImplausibleConfidenceCap = 0.4

// ErrAlreadyRunning is returned by Run while another sweep is in progress.
var ErrAlreadyRunning = eris.New("sweep: already running")

// Catalog is the storage the sweep reads and writes.
type Catalog interface {
	ListCatalogProducts(ctx context.Context, organizationID string) ([]model.CatalogProduct, error)
	GetCatalogProduct(ctx context.Context, productID string) (*model.CatalogProduct, error)
	NutrientDefinitions(ctx context.Context) ([]model.NutrientDefinition, error)
	UpsertNutrientValues(ctx context.Context, values []model.NutrientValue) (store.UpsertResult, error)
}

// Resolver produces a profile for one product.
type Resolver interface {
	Resolve(ctx context.Context, p model.CatalogProduct) (*consensus.Resolution, error)
}

// TaskEnsurer raises the review task for a product.
type TaskEnsurer interface {
	Ensure(ctx context.Context, p model.CatalogProduct, o verify.Outcome) (bool, error)
}

// Publisher receives every finished summary.
type Publisher interface {
	Publish(ctx context.Context, s *Summary) error
}

// Options are the sweep settings.
type Options struct {
	OrganizationID string
	Concurrency    int
	MaxProducts    int
	MaxDuration    time.Duration
	DryRun         bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithMetrics records sweep metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithValidator replaces the default plausibility validator.
func WithValidator(v sanity.Validator) Option {
	return func(s *Sweeper) { s.validator = v }
}

// WithResetter clears per-sweep source caches at the start of every sweep.
func WithResetter(r interface{ Reset() }) Option {
	return func(s *Sweeper) { s.resetter = r }
}

// WithPublisher hands every finished summary to p. Publishers run in the
// order they were added.
func WithPublisher(p Publisher) Option {
	return func(s *Sweeper) { s.publishers = append(s.publishers, p) }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper runs sweeps. It is safe for concurrent use; only one sweep runs at
// a time.
type Sweeper struct {
	catalog    Catalog
	resolver   Resolver
	tasks      TaskEnsurer
	validator  sanity.Validator
	metrics    *metrics.Metrics
	resetter   interface{ Reset() }
	publishers []Publisher
	opts       Options
	now        func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	last    *Summary
}

// New creates a Sweeper.
func New(catalog Catalog, resolver Resolver, tasks TaskEnsurer, opts Options, options ...Option) *Sweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	s := &Sweeper{
		catalog:   catalog,
		resolver:  resolver,
		tasks:     tasks,
		validator: sanity.NewRuleValidator(),
		opts:      opts,
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// RunID formats the run identifier for a sweep started at t.
func RunID(t time.Time) string {
	return "sweep-" + t.UTC().Format("20060102T150405Z")
}

// Running reports whether a sweep is in progress.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Last returns the most recent finished summary, or nil.
func (s *Sweeper) Last() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Run performs one sweep over the configured organization. Per-product
// failures are counted, never returned; only failing to read the catalog
// aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) (*Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

// Start runs a sweep in the background. It returns ErrAlreadyRunning
// instead of queueing behind a sweep in progress.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	go func() {
		defer s.running.Store(false)
		if _, err := s.run(ctx); err != nil {
			zap.L().Error("sweep: background sweep failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Sweeper) run(ctx context.Context) (*Summary, error) {
	started := s.now().UTC()
	runID := RunID(started)
	log := zap.L().With(zap.String("component", "sweep"), zap.String("run_id", runID))

	runCtx := ctx
	if s.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.MaxDuration)
		defer cancel()
	}

	if s.resetter != nil {
		s.resetter.Reset()
	}

	products, err := s.catalog.ListCatalogProducts(runCtx, s.opts.OrganizationID)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: list products")
	}
	defs, err := s.definitions(runCtx)
	if err != nil {
		return nil, err
	}

	summary := newSummary(runID, s.opts.OrganizationID, s.opts.DryRun, started)
	summary.ProductsSeen = len(products)

	var pending []model.CatalogProduct
	for _, p := range products {
		if len(p.MissingCore()) == 0 {
			summary.add(ProductResult{ProductID: p.ID, Name: p.Name, Status: StatusSkipped})
			s.metrics.ProductProcessed(StatusSkipped)
			continue
		}
		pending = append(pending, p)
	}
	if s.opts.MaxProducts > 0 && len(pending) > s.opts.MaxProducts {
		summary.ProductsDeferred += len(pending) - s.opts.MaxProducts
		pending = pending[:s.opts.MaxProducts]
	}

	log.Info("sweep: starting",
		zap.String("organization_id", s.opts.OrganizationID),
		zap.Int("products", len(products)),
		zap.Int("pending", len(pending)),
		zap.Int("concurrency", s.opts.Concurrency),
		zap.Bool("dry_run", s.opts.DryRun),
	)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)

	for _, p := range pending {
		if runCtx.Err() != nil {
			mu.Lock()
			summary.ProductsDeferred++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if runCtx.Err() != nil {
				mu.Lock()
				summary.ProductsDeferred++
				mu.Unlock()
				return nil
			}
			r := s.process(runCtx, runID, p, defs)
			mu.Lock()
			summary.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case ctx.Err() != nil:
		summary.Status = SweepCanceled
	case runCtx.Err() != nil:
		summary.Status = SweepTimedOut
	}

	sort.Slice(summary.Products, func(i, j int) bool {
		return summary.Products[i].ProductID < summary.Products[j].ProductID
	})
	summary.FinishedAt = s.now().UTC()
	summary.DurationMs = summary.FinishedAt.Sub(started).Milliseconds()
	s.metrics.SweepFinished(summary.Status, summary.FinishedAt.Sub(started))

	log.Info("sweep: finished",
		zap.String("status", summary.Status),
		zap.Int("resolved", summary.ProductsResolved),
		zap.Int("unresolved", summary.ProductsUnresolved),
		zap.Int("failed", summary.ProductsFailed),
		zap.Int("skipped", summary.ProductsSkipped),
		zap.Int("deferred", summary.ProductsDeferred),
		zap.Int("values_written", summary.ValuesWritten),
		zap.Int("tasks_created", summary.TasksCreated),
	)

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()

	if len(s.publishers) > 0 {
		// The sweep context may already be done; publishing gets its own.
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		for _, p := range s.publishers {
			if err := p.Publish(pubCtx, summary); err != nil {
				log.Warn("sweep: publish summary failed", zap.Error(err))
			}
		}
	}

	if summary.Status == SweepCanceled {
		return summary, eris.Wrap(ctx.Err(), "sweep: canceled")
	}
	return summary, nil
}

// ResolveOne runs the per-product pipeline for a single product.
func (s *Sweeper) ResolveOne(ctx context.Context, productID string) (*ProductResult, error) {
	p, err := s.catalog.GetCatalogProduct(ctx, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "sweep: get product %s", productID)
	}
	defs, err := s.definitions(ctx)
	if err != nil {
		return nil, err
	}
	if len(p.MissingCore()) == 0 {
		return &ProductResult{ProductID: p.ID, Name: p.Name, Status: StatusSkipped}, nil
	}
	r := s.process(ctx, RunID(s.now()), *p, defs)
	return &r, nil
}

func (s *Sweeper) definitions(ctx context.Context) (map[string]string, error) {
	defs, err := s.catalog.NutrientDefinitions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: load nutrient definitions")
	}
	byKey := make(map[string]string, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d.ID
	}
	return byKey, nil
}

// process never returns an error: failures, including panics in
// collaborators, become a failed ProductResult.
func (s *Sweeper) process(ctx context.Context, runID string, p model.CatalogProduct, defs map[string]string) (r ProductResult) {
	log := zap.L().With(zap.String("component", "sweep"), zap.String("product_id", p.ID))
	r = ProductResult{ProductID: p.ID, Name: p.Name, MissingCore: p.MissingCore()}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("sweep: product panicked", zap.Any("panic", rec), zap.Stack("stack"))
			r.Status = StatusFailed
			r.Error = fmt.Sprintf("panic: %v", rec)
		}
		s.metrics.ProductProcessed(r.Status)
	}()

	fail := func(err error) ProductResult {
		log.Error("sweep: product failed", zap.Error(err))
		r.Status = StatusFailed
		r.Error = err.Error()
		return r
	}

	res, err := s.resolver.Resolve(ctx, p)
	if err != nil {
		return fail(eris.Wrap(err, "sweep: resolve"))
	}

	var kept map[string]float64
	if res != nil {
		var dropped []sanity.Dropped
		kept, dropped = sanity.Filter(p.ID, res.Values)
		r.Dropped = dropped
		for _, d := range dropped {
			s.metrics.ValueDropped(d.Key)
		}
	}

	if res == nil || len(kept) == 0 {
		r.Status = StatusUnresolved
		log.Warn("sweep: no usable nutrient profile", zap.Strings("missing_core", r.MissingCore))
		if err := s.ensureTask(ctx, p, verify.Outcome{RunID: runID, MissingCore: r.MissingCore}, &r); err != nil {
			return fail(err)
		}
		return r
	}

	r.Method = string(res.Method)
	r.SourceRef = res.SourceRef
	r.EvidenceGrade = res.EvidenceGrade
	r.Reverted = res.Reverted

	r.Findings = s.validator.Validate(finalProfile(p, kept), p.Name)
	r.Confidence = res.Confidence
	if sanity.HasErrors(r.Findings) {
		r.Confidence = math.Min(r.Confidence, ImplausibleConfidenceCap)
	}
	if res.Reverted {
		// The revert discount is already in res.Confidence; the blend's
		// findings only feed the task.
		r.Findings = append(r.Findings, res.ConsensusFindings...)
	}
	r.Confidence = nutrient.Round(r.Confidence, 4)

	retrievedAt := s.now().UTC()
	values := make([]model.NutrientValue, 0, len(kept))
	r.Values = make(map[string]float64, len(kept))
	for _, key := range sortedKeys(kept) {
		if p.HasValue(key) {
			r.KeptExisting++
			continue
		}
		defID, ok := defs[key]
		if !ok {
			log.Warn("sweep: no nutrient definition, skipping", zap.String("nutrient", key))
			r.Unknown = append(r.Unknown, key)
			continue
		}
		v := nutrient.Round(kept[key], 4)
		r.Values[key] = v
		values = append(values, model.NutrientValue{
			ProductID:            p.ID,
			NutrientDefinitionID: defID,
			NutrientKey:          key,
			ValuePer100g:         v,
			SourceType:           res.SourceType,
			SourceRef:            res.SourceRef,
			ConfidenceScore:      r.Confidence,
			EvidenceGrade:        res.EvidenceGrade,
			HistoricalException:  res.HistoricalException(),
			VerificationStatus:   model.StatusNeedsReview,
			Version:              model.InitialVersion,
			RetrievalRunID:       runID,
			RetrievedAt:          retrievedAt,
		})
	}

	if s.opts.DryRun {
		r.Written = len(values)
	} else {
		up, err := s.catalog.UpsertNutrientValues(ctx, values)
		if err != nil {
			return fail(eris.Wrap(err, "sweep: write values"))
		}
		r.Written = up.Written
		r.Skipped = up.SkippedVerified
		s.metrics.ValuesWritten(up.Written, up.SkippedVerified)
	}
	r.Status = StatusResolved

	outcome := verify.Outcome{
		RunID:         runID,
		Resolved:      true,
		Method:        r.Method,
		SourceRef:     r.SourceRef,
		Confidence:    r.Confidence,
		EvidenceGrade: r.EvidenceGrade,
		Written:       r.Values,
		MissingCore:   r.MissingCore,
		Findings:      r.Findings,
	}
	if err := s.ensureTask(ctx, p, outcome, &r); err != nil {
		return fail(err)
	}

	log.Info("sweep: product resolved",
		zap.String("method", r.Method),
		zap.Float64("confidence", r.Confidence),
		zap.Int("written", r.Written),
		zap.Int("kept_existing", r.KeptExisting),
		zap.Int("dropped", len(r.Dropped)),
	)
	return r
}

func (s *Sweeper) ensureTask(ctx context.Context, p model.CatalogProduct, o verify.Outcome, r *ProductResult) error {
	r.TaskSeverity = verify.Severity(o)
	if s.opts.DryRun {
		return nil
	}
	created, err := s.tasks.Ensure(ctx, p, o)
	if err != nil {
		return err
	}
	r.TaskCreated = created
	if created {
		s.metrics.TaskCreated(string(r.TaskSeverity))
	}
	return nil
}

// finalProfile is the profile the product ends up with: stored values win
// over resolved ones.
func finalProfile(p model.CatalogProduct, resolved map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(resolved)+len(p.Nutrients))
	for key, v := range resolved {
		out[key] = v
	}
	for key, n := range p.Nutrients {
		if n.Value != nil {
			out[key] = *n.Value
		}
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsNotFound reports whether err means the product does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
