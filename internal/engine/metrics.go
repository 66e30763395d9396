package engine

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics backs pg_subscribe_stats() (§6, §4.11): gauges/counters read
// directly by Engine.Stats rather than scraped, so the CLI's stats
// subcommand works without a Prometheus server in the loop.
type Metrics struct {
	activeSlots    prometheus.Gauge
	trackedTables  prometheus.Gauge
	eventsTotal    prometheus.Counter
	overflowsTotal prometheus.Counter
	heartbeatsSent prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pg_subscribe",
			Name:      "active_slots",
			Help:      "Number of subscription slots currently Live.",
		}),
		trackedTables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pg_subscribe",
			Name:      "tracked_tables",
			Help:      "Number of base tables with an installed shared trigger.",
		}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pg_subscribe",
			Name:      "events_total",
			Help:      "Total data events emitted across all slots.",
		}),
		overflowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pg_subscribe",
			Name:      "overflows_total",
			Help:      "Total ring overflow occurrences across all slots.",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pg_subscribe",
			Name:      "heartbeats_total",
			Help:      "Total heartbeat events emitted across all slots.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.activeSlots, m.trackedTables, m.eventsTotal, m.overflowsTotal, m.heartbeatsSent)
	}
	return m
}

// snapshot renders the current counter values as the key/value map
// pg_subscribe_stats() returns.
func (m *Metrics) snapshot() map[string]int64 {
	return map[string]int64{
		"active_slots":    int64(gaugeValue(m.activeSlots)),
		"tracked_tables":   int64(gaugeValue(m.trackedTables)),
		"events_total":     int64(counterValue(m.eventsTotal)),
		"overflows_total":  int64(counterValue(m.overflowsTotal)),
		"heartbeats_total": int64(counterValue(m.heartbeatsSent)),
	}
}

func gaugeValue(g prometheus.Gauge) float64 {
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
