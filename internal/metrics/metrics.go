// Package metrics holds the prometheus collectors of a livemon process.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/jakopako/livemon/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livemon"

type Metrics struct {
	registry          *prometheus.Registry
	Running           prometheus.Gauge
	SnapshotsTotal    *prometheus.CounterVec
	InteractionsTotal *prometheus.CounterVec
	PageErrorRetries  prometheus.Counter
	ChallengesTotal   *prometheus.CounterVec
	FaultsTotal       *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "Whether a collection run is in progress",
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Recorded snapshots by classification",
		}, []string{"class"}),
		InteractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Captured interactions by type",
		}, []string{"type"}),
		PageErrorRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_error_retries_total",
			Help:      "Page reloads triggered by error pages",
		}),
		ChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Verification challenges by result",
		}, []string{"result"}),
		FaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Collection faults by phase",
		}, []string{"phase"}),
	}
	r.MustRegister(m.Running, m.SnapshotsTotal, m.InteractionsTotal, m.PageErrorRetries, m.ChallengesTotal, m.FaultsTotal)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

func (m *Metrics) ObserveSnapshot(s *snapshot.Snapshot) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(s.Classify().String()).Inc()
}

func (m *Metrics) ObserveInteraction(i types.Interaction) {
	if m == nil {
		return
	}
	m.InteractionsTotal.WithLabelValues(string(types.ParseInteractionType(string(i.Type)))).Inc()
}

func (m *Metrics) ObservePageErrorRetry() {
	if m == nil {
		return
	}
	m.PageErrorRetries.Inc()
}

// ObserveChallenge counts a challenge with result "detected", "resolved" or "timeout".
func (m *Metrics) ObserveChallenge(result string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFault(phase string) {
	if m == nil {
		return
	}
	m.FaultsTotal.WithLabelValues(phase).Inc()
}
