package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters exported by this package. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RoleFetches     *prometheus.CounterVec
	GuardDecisions  *prometheus.CounterVec
	Approvals       *prometheus.CounterVec
	SessionEvents   *prometheus.CounterVec
	StationCacheHit *prometheus.CounterVec
}

// NewMetrics registers the counters on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoleFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationauth_role_fetch_total",
			Help: "Role fetches by result (ok, error, discarded).",
		}, []string{"result"}),
		GuardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationauth_guard_decisions_total",
			Help: "Route guard evaluations by resulting state.",
		}, []string{"state"}),
		Approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationauth_approvals_total",
			Help: "Approval workflow outcomes by flow.",
		}, []string{"flow", "outcome"}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationauth_session_events_total",
			Help: "Identity provider change notifications by kind.",
		}, []string{"kind"}),
		StationCacheHit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationauth_station_cache_total",
			Help: "Station cache lookups by result (hit, miss).",
		}, []string{"result"}),
	}
}

func (m *Metrics) roleFetch(result string) {
	if m == nil || m.RoleFetches == nil {
		return
	}
	m.RoleFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) guardDecision(state GuardState) {
	if m == nil || m.GuardDecisions == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) approval(flow, outcome string) {
	if m == nil || m.Approvals == nil {
		return
	}
	m.Approvals.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) sessionEvent(kind SessionEventKind) {
	if m == nil || m.SessionEvents == nil {
		return
	}
	m.SessionEvents.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) stationCache(result string) {
	if m == nil || m.StationCacheHit == nil {
		return
	}
	m.StationCacheHit.WithLabelValues(result).Inc()
}
