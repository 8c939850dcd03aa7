package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/config"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/consensus"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/metrics"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/monitoring"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/report"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/resilience"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/source/fallback"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/store"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/verify"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/fdc"
	"github.com/zemo2003/nutrition-autopilot-sub001/pkg/openfoodfacts"
)

// engineEnv holds the store, sources and sweeper needed by the sweep,
// resolve and serve commands.
type engineEnv struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Sweeper *sweep.Sweeper
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine validates cfg for mode, opens and migrates the store and wires
// clients, sources, resolver, task generator and sweeper. Callers should
// defer env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	table, err := fallback.Default()
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load fallback table")
	}

	m := metrics.New()
	gatherer := buildGatherer(cfg, table, m)
	resolver := consensus.NewResolver(gatherer, nil, nil)

	createdBy := cfg.Sweep.CreatedBy
	if createdBy == "" {
		createdBy = store.DefaultCreatedBy
	}
	tasks := verify.NewGenerator(st, createdBy)

	publisher, err := initPublisher(ctx, cfg.Report)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := sweep.Options{
		OrganizationID: cfg.Sweep.OrganizationID,
		Concurrency:    cfg.Sweep.Concurrency,
		MaxProducts:    cfg.Sweep.MaxProducts,
		MaxDuration:    time.Duration(cfg.Sweep.MaxDurationMins) * time.Minute,
		DryRun:         cfg.Sweep.DryRun,
	}
	sweepOpts := []sweep.Option{sweep.WithMetrics(m), sweep.WithResetter(gatherer)}
	if publisher != nil {
		sweepOpts = append(sweepOpts, sweep.WithPublisher(publisher))
	}
	if cfg.Monitoring.WebhookURL != "" {
		sweepOpts = append(sweepOpts, sweep.WithPublisher(monitoring.NewAlerter(cfg.Monitoring)))
	}

	zap.L().Info("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Int("fallback_entries", table.Len()),
		zap.Bool("dry_run", opts.DryRun),
	)

	return &engineEnv{
		Store:   st,
		Metrics: m,
		Sweeper: sweep.New(st, resolver, tasks, opts, sweepOpts...),
	}, nil
}

// buildGatherer wires the barcode, government and fallback sources as the
// redundant set with name matching as the last resort.
func buildGatherer(c *config.Config, table *fallback.Table, m *metrics.Metrics) *source.Gatherer {
	policy := resilience.NewPolicy(c.Resilience.MaxAttempts, c.Resilience.InitialBackoffMs)
	cooldown := time.Duration(c.Resilience.ResetTimeoutSecs) * time.Second

	off := openfoodfacts.NewClient(
		openfoodfacts.WithBaseURL(c.OpenFoodFacts.BaseURL),
		openfoodfacts.WithUserAgent(c.OpenFoodFacts.UserAgent),
		openfoodfacts.WithRateLimit(c.OpenFoodFacts.RatePerSec),
		openfoodfacts.WithRetryPolicy(policy),
	)
	fdcClient := fdc.NewClient(c.FDC.APIKey,
		fdc.WithBaseURL(c.FDC.BaseURL),
		fdc.WithRateLimit(c.FDC.RatePerSec),
		fdc.WithRetryPolicy(policy),
	)
	matcher := fdc.NewMatcher(fdcClient,
		fdc.WithPageSize(c.FDC.PageSize),
		fdc.WithBreaker(resilience.NewBreaker("fdc", c.Resilience.FailureThreshold, cooldown)),
	)

	redundant := []source.Source{
		source.NewBarcodeSource(off, time.Duration(c.OpenFoodFacts.TimeoutSecs)*time.Second),
		source.NewGovernmentSource(matcher, time.Duration(c.FDC.TimeoutSecs)*time.Second),
		source.NewFallbackSource(table),
	}
	return source.NewGatherer(redundant,
		source.NewNameMatchSource(table, source.DefaultNameRules),
		source.WithConcurrency(c.Sweep.SourceConcurrency),
		source.WithObserver(m.ObserveSource),
	)
}

// initPublisher returns nil when no report sink is configured.
func initPublisher(ctx context.Context, rc config.ReportConfig) (*report.Publisher, error) {
	var sinks []report.Sink
	if rc.Dir != "" {
		sinks = append(sinks, report.FileSink{Dir: rc.Dir})
	}
	if rc.S3Bucket != "" {
		s3Sink, err := report.NewS3Sink(ctx, report.S3Config{
			Bucket:   rc.S3Bucket,
			Prefix:   rc.S3Prefix,
			Region:   rc.S3Region,
			Endpoint: rc.S3Endpoint,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init s3 report sink")
		}
		sinks = append(sinks, s3Sink)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return report.NewPublisher(rc.XLSX, sinks...), nil
}
