package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ratewire",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total accepted client connections.",
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ratewire",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Currently live client connections.",
		},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratewire",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests dispatched by action and response status.",
		},
		[]string{"action", "status"},
	)
	tasksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ratewire",
			Subsystem: "server",
			Name:      "tasks_dropped_total",
			Help:      "Outbound tasks discarded because their connection died.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connectionsAccepted, connectionsActive, requestsTotal, tasksDropped)
	})
}

func RecordConnectionOpened() {
	connectionsAccepted.Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	connectionsActive.Dec()
}

func RecordRequest(action string, status int) {
	requestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

func RecordTaskDropped() {
	tasksDropped.Inc()
}
