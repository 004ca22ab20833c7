package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/SanteonNL/termrepo/cmd/termrepo/collection"
	"github.com/SanteonNL/termrepo/cmd/termrepo/config"
	"github.com/SanteonNL/termrepo/cmd/termrepo/datasource"
	"github.com/SanteonNL/termrepo/cmd/termrepo/expansion"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/bundle"
	"github.com/SanteonNL/termrepo/cmd/termrepo/fhir/valueset"
	"github.com/SanteonNL/termrepo/cmd/termrepo/indexing"
	"github.com/SanteonNL/termrepo/cmd/termrepo/jobs"
	"github.com/SanteonNL/termrepo/cmd/termrepo/lookup"
	"github.com/SanteonNL/termrepo/cmd/termrepo/output"
	"github.com/SanteonNL/termrepo/cmd/termrepo/reference"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

const stopTimeout = 10 * time.Second

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	output *output.OutputManager

	store      datasource.Store
	metrics    *prometheus.Registry
	runner     *jobs.Runner
	resolver   *reference.Resolver
	expansions *expansion.Service
	registry   *collection.Registry
	traverser  *cascade.Traverser
	bundles    *bundle.BundleService
	valueSets  *valueset.ValueSetService

	closers []func() error
}

// newApp loads the configuration and wires the stack. The job runner is
// started and stopped with the app.
func newApp(ctx context.Context, opts rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	a := &app{cfg: cfg, metrics: prometheus.NewRegistry()}
	if cfg.OutputDir != "" {
		om, err := output.NewOutputManager(cfg.OutputDir, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		a.output = om
		a.log = om.GetLogger()
		a.closers = append(a.closers, om.Close)
	} else {
		a.log = output.NewLogger(os.Stdout, cfg.LogLevel)
	}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openStore(ctx); err != nil {
		return err
	}

	var lookupClient reference.Lookup
	if a.cfg.LookupURL != "" {
		lookupClient = lookup.NewClient(lookup.Config{
			BaseURL:  a.cfg.LookupURL,
			Timeout:  a.cfg.LookupTimeout,
			RetryMax: a.cfg.LookupRetries,
		}, a.log)
	}
	a.resolver = reference.NewResolver(a.store, lookupClient, a.log)

	runner, err := jobs.NewRunner(jobs.Config{Workers: a.cfg.Workers, QueueSize: a.cfg.QueueSize}, a.metrics, a.log)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}
	a.runner = runner
	a.closers = append(a.closers, func() error { return runner.Stop(stopTimeout) })

	var indexer indexing.Indexer
	if len(a.cfg.KafkaBrokers) > 0 {
		kafka := indexing.NewKafkaIndexer(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.log)
		a.closers = append(a.closers, kafka.Close)
		indexer = kafka
	} else {
		indexer = indexing.NewLogIndexer(a.log)
	}

	a.expansions = expansion.NewService(a.store, a.resolver, runner, indexer, a.log)
	a.registry = collection.NewRegistry(a.store, a.resolver, a.expansions, a.log)
	a.traverser = cascade.NewTraverser(a.store, a.log)

	cacheConfig := bundle.DefaultCacheConfig()
	cacheConfig.DefaultTTL = a.cfg.CacheTTL
	a.bundles = bundle.NewBundleService(a.traverser, cacheConfig, a.log)
	a.closers = append(a.closers, func() error { a.bundles.Stop(); return nil })

	a.valueSets = valueset.NewValueSetService(a.store, a.store, a.expansions, a.log)
	return nil
}

// openStore connects to Postgres when a database is configured and falls
// back to the in-memory store otherwise. The seed directory is loaded into
// either.
func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pg, err := datasource.ConnectPostgres(ctx, a.cfg.DatabaseURL, a.log)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
	} else {
		a.log.Warn().Msg("No database configured, using the in-memory store")
		a.store = datasource.NewMemoryStore(a.log)
	}

	if a.cfg.SeedDir != "" {
		if err := datasource.NewLoader(a.store, a.log).LoadDirectory(ctx, a.cfg.SeedDir); err != nil {
			return fmt.Errorf("failed to load seed directory %s: %w", a.cfg.SeedDir, err)
		}
	}
	return nil
}

func (a *app) defaultMode() jobs.Mode {
	if a.cfg.SyncMode {
		return jobs.Synchronous
	}
	return jobs.Background
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
