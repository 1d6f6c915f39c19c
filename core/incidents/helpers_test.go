package incidents

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"incident-registry/config"
	"incident-registry/core/store"
	"incident-registry/core/store/storetest"
	"incident-registry/core/utils"
)

type testEnv struct {
	db      *store.DB
	store   store.IncidentsStore
	service *Service
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storetest.NewSQLite(t)
	st := store.NewIncidentsStore(db, 5*time.Second)
	reg := prometheus.NewRegistry()
	svc := NewService(Options{
		Store:      st,
		Logger:     utils.NopLogger(),
		Registerer: reg,
		Incidents:  config.IncidentsConfig{MaxAttempts: 10, RetryBaseDelay: time.Millisecond},
		Scheduler:  config.SchedulerConfig{Enabled: true, IntegrityCron: "@every 1h"},
	})
	return &testEnv{db: db, store: st, service: svc, reg: reg}
}

func dateUTC(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func sampleContent() store.IncidentContent {
	return store.IncidentContent{
		DetectedAt:       dateUTC(2024, 1, 10),
		Description:      "Mailbox compromised",
		IncidentType:     "unauthorized_access",
		DataCategories:   []string{"contact"},
		AffectedSubjects: 12,
		Consequences:     "Addresses exposed",
		MeasuresTaken:    "Password reset",
		InternalNotes:    "ticket SEC-42",
	}
}

func (e *testEnv) create(t *testing.T, org string) (*store.Incident, *store.IncidentVersion) {
	t.Helper()
	inc, v, err := e.service.Registry.CreateIncident(context.Background(), org, sampleContent(), "alice")
	require.NoError(t, err)
	return inc, v
}

// breakChain clears every latest flag of the incident behind the registry's back.
func (e *testEnv) breakChain(t *testing.T, incidentID string) {
	t.Helper()
	_, err := e.db.Exec(`UPDATE incident_versions SET is_latest = FALSE WHERE incident_id = ?`, incidentID)
	require.NoError(t, err)
}
