package appbootstrap

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incident-registry/api"
	"incident-registry/config"
	"incident-registry/core/incidents"
	"incident-registry/core/rbac"
	"incident-registry/core/store"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *store.DB, logger *slog.Logger) (*runtimeComposition, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.DB, string(db.Dialect)),
	)

	incidentsStore := store.NewIncidentsStore(db, cfg.Incidents.EffectiveTxTimeout())
	incidentsSvc := incidents.NewService(incidents.Options{
		Store:      incidentsStore,
		Tokens:     incidents.RandomTokens{},
		Logger:     logger,
		Registerer: registry,
		Incidents:  cfg.Incidents,
		Scheduler:  cfg.Scheduler,
	})
	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Incidents: incidentsSvc,
			Policy:    policy,
			Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			Health:    db.PingContext,
			SchemaVersion: func(ctx context.Context) (int64, error) {
				return store.SchemaVersion(ctx, db)
			},
		},
		workers: []api.BackgroundWorker{incidentsSvc.Auditor},
	}, nil
}
