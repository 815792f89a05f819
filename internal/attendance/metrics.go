package attendance

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	storeOperations *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	mutations       *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg yields unregistered
// collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		storeOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendsync_store_operations_total",
			Help: "Store operations by store, operation and status",
		}, []string{"store", "operation", "status"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendsync_fallback_total",
			Help: "Durable store failures handed off to the local fallback file",
		}, []string{"operation"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendsync_mutations_total",
			Help: "Write actions by kind and outcome",
		}, []string{"action", "outcome"}),
	}
}

func (m *Metrics) observeStore(store, operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrStoreTimeout) {
			status = "timeout"
		}
	}
	m.storeOperations.WithLabelValues(store, operation, status).Inc()
}

func (m *Metrics) observeFallback(operation string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(operation).Inc()
}

func (m *Metrics) observeMutation(kind ActionKind, outcome Outcome) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), string(outcome)).Inc()
}
