package incidents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"incident-registry/core/store"
)

type Stats struct {
	Total             int `json:"total"`
	Resolved          int `json:"resolved"`
	Unresolved        int `json:"unresolved"`
	RegulatorNotified int `json:"regulator_notified"`
	AffectedNotified  int `json:"affected_notified"`
	// AverageResolutionDays is nil when no resolved incident has a detection date.
	AverageResolutionDays *float64 `json:"average_resolution_days"`
}

// StatsAggregator reports over the latest version of each incident only.
type StatsAggregator struct {
	store   store.IncidentsStore
	logger  *slog.Logger
	metrics *Metrics
}

func NewStatsAggregator(st store.IncidentsStore, logger *slog.Logger, metrics *Metrics) *StatsAggregator {
	return &StatsAggregator{store: st, logger: logger, metrics: metrics}
}

func (a *StatsAggregator) Compute(ctx context.Context, organizationID string) (*Stats, error) {
	defer a.metrics.observe("stats", time.Now())
	if strings.TrimSpace(organizationID) == "" {
		return nil, invalidContent("organization id is required")
	}
	items, err := a.store.ListOrganizationIncidents(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if err := checkSummaries(a.logger, a.metrics, "stats", items); err != nil {
		return nil, err
	}
	return aggregate(items), nil
}

func aggregate(items []store.IncidentSummary) *Stats {
	stats := &Stats{Total: len(items)}
	var (
		totalDays float64
		measured  int
	)
	for _, item := range items {
		latest := item.Latest
		if latest.Resolved() {
			stats.Resolved++
			if latest.DetectedAt != nil {
				totalDays += latest.ResolvedAt.Sub(*latest.DetectedAt).Hours() / 24
				measured++
			}
		} else {
			stats.Unresolved++
		}
		if latest.RegulatorNotified {
			stats.RegulatorNotified++
		}
		if latest.SubjectsNotified {
			stats.AffectedNotified++
		}
	}
	if measured > 0 {
		avg := totalDays / float64(measured)
		stats.AverageResolutionDays = &avg
	}
	return stats
}
