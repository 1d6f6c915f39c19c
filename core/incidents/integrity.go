package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"incident-registry/config"
	"incident-registry/core/store"
)

const defaultIntegritySchedule = "@every 15m"

// IntegrityAuditor periodically scans every version chain and reports the broken ones.
// It only reads.
type IntegrityAuditor struct {
	cfg     config.SchedulerConfig
	store   store.IncidentsStore
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewIntegrityAuditor(cfg config.SchedulerConfig, st store.IncidentsStore, logger *slog.Logger, metrics *Metrics) *IntegrityAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityAuditor{cfg: cfg, store: st, logger: logger, metrics: metrics}
}

func (a *IntegrityAuditor) StartWithContext(ctx context.Context) error {
	if a == nil || a.store == nil || !a.cfg.Enabled {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	schedule := a.cfg.IntegrityCron
	if schedule == "" {
		schedule = defaultIntegritySchedule
	}
	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{logger: a.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.RunOnce(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("integrity audit failed", "error", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("integrity schedule %q: %w", schedule, err)
	}
	c.Start()
	a.cron = c
	a.cancel = cancel
	a.running = true
	a.logger.Info("integrity auditor started", "schedule", schedule)
	return nil
}

func (a *IntegrityAuditor) StopWithContext(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	c, cancel, wasRunning := a.cron, a.cancel, a.running
	a.cron, a.cancel, a.running = nil, nil, false
	a.mu.Unlock()
	if !wasRunning {
		return nil
	}
	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce scans all chains, logs and counts each fault, and returns them.
func (a *IntegrityAuditor) RunOnce(ctx context.Context) ([]store.ChainFault, error) {
	start := time.Now()
	defer a.metrics.observe("integrity", start)
	faults, err := a.store.ListChainFaults(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range faults {
		_ = reportFault(a.logger, a.metrics, &ConsistencyError{
			IncidentID:  f.IncidentID,
			Op:          "integrity",
			LatestCount: f.LatestCount,
			Detail: fmt.Sprintf("versions=%d min=%d max=%d latest_version=%d",
				f.VersionCount, f.MinVersion, f.MaxVersion, f.LatestVersion),
		})
	}
	a.logger.Debug("integrity audit finished", "faults", len(faults), "duration", time.Since(start))
	return faults, nil
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
