package incidents

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeFound     = "found"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Metrics tracks version creation, write contention and public verification.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	VersionsCreated   *prometheus.CounterVec
	ConflictRetries   prometheus.Counter
	ConsistencyFaults *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics registers the incident metrics on reg. A nil reg builds unregistered
// collectors, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VersionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incidents_versions_created_total",
			Help: "Incident versions written, by kind (first or next)",
		}, []string{"kind"}),
		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "incidents_conflict_retries_total",
			Help: "Units of work retried after losing a race with a concurrent writer",
		}),
		ConsistencyFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incidents_consistency_faults_total",
			Help: "Version chains found breaking the single-latest invariant",
		}, []string{"op"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "incidents_verifications_total",
			Help: "Public token verifications by outcome",
		}, []string{"outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "incidents_operation_duration_seconds",
			Help:    "Duration of registry and verification operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"op"}),
	}
}

func (m *Metrics) versionCreated(kind string) {
	if m == nil {
		return
	}
	m.VersionsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) conflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}

func (m *Metrics) consistencyFault(op string) {
	if m == nil {
		return
	}
	m.ConsistencyFaults.WithLabelValues(op).Inc()
}

func (m *Metrics) verification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

// observe records the duration of op. Call with time.Now() at the start of the operation.
func (m *Metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
