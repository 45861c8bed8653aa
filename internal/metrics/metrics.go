// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rendersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daylens",
			Name:      "renders_total",
			Help:      "Full UI renders produced by client controllers.",
		},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daylens",
			Name:      "actions_total",
			Help:      "UI actions dispatched to controllers, by outcome.",
		},
		[]string{"result"},
	)

	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daylens",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Document store writes, by operation and result.",
		},
		[]string{"op", "result"},
	)

	watchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daylens",
			Subsystem: "docstore",
			Name:      "watch_changes_total",
			Help:      "Database file changes seen by the watcher, by whether they refreshed live queries.",
		},
		[]string{"result"},
	)

	// ActiveClients is the number of live client controllers.
	ActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "daylens",
			Name:      "active_clients",
			Help:      "Client controllers currently held in memory.",
		},
	)

	// LiveQueries is the number of open document store subscriptions.
	LiveQueries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "daylens",
			Subsystem: "docstore",
			Name:      "live_queries",
			Help:      "Open live query subscriptions.",
		},
	)
)

// Render counts one produced view.
func Render() { rendersTotal.Inc() }

// Action counts a dispatched action. result is "ok", "stale" or "ignored".
func Action(result string) { actionsTotal.WithLabelValues(result).Inc() }

// StoreOp counts a store write.
func StoreOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpsTotal.WithLabelValues(op, result).Inc()
}

// WatchChange counts a debounced file change. Changes that only reflect this
// process's own writes are "skipped".
func WatchChange(refreshed bool) {
	result := "skipped"
	if refreshed {
		result = "refreshed"
	}
	watchTotal.WithLabelValues(result).Inc()
}
