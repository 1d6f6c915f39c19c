package incidents

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"incident-registry/config"
	"incident-registry/core/store"
)

type Options struct {
	Store      store.IncidentsStore
	Tokens     TokenGenerator
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Incidents  config.IncidentsConfig
	Scheduler  config.SchedulerConfig
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Service bundles the components built over one store.
type Service struct {
	Chain    *VersionChain
	Registry *Registry
	Resolver *Resolver
	Stats    *StatsAggregator
	Auditor  *IntegrityAuditor
	Metrics  *Metrics
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics(opts.Registerer)
	registryLogger := logger.With("component", "incidents")
	chain := NewVersionChain(opts.Store, opts.Tokens, RetryPolicy{
		MaxAttempts: opts.Incidents.EffectiveMaxAttempts(),
		BaseDelay:   opts.Incidents.RetryBaseDelay,
	}, registryLogger, metrics)
	if opts.Now != nil {
		chain.now = opts.Now
	}
	return &Service{
		Chain:    chain,
		Registry: NewRegistry(opts.Store, chain, registryLogger, metrics),
		Resolver: NewResolver(opts.Store, logger.With("component", "verify"), metrics),
		Stats:    NewStatsAggregator(opts.Store, registryLogger, metrics),
		Auditor:  NewIntegrityAuditor(opts.Scheduler, opts.Store, logger.With("component", "integrity"), metrics),
		Metrics:  metrics,
	}
}
