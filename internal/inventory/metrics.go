package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grocery_inventory_writes_total",
			Help: "Item writes by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	snapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grocery_inventory_snapshots_total",
			Help: "Snapshots published to subscribers",
		},
	)

	snapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grocery_inventory_items",
			Help: "Items in the current snapshot",
		},
	)

	subscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grocery_inventory_subscribers",
			Help: "Open snapshot subscriptions",
		},
	)
)

// Write outcomes.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)
