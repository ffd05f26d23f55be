// Package metrics exposes Prometheus instrumentation for the decision
// loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors published by the trading loop.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	CycleErrorsTotal *prometheus.CounterVec
	CycleOverruns    prometheus.Counter
	OrdersTotal      *prometheus.CounterVec
	TradesToday      prometheus.Gauge
	PositionState    *prometheus.GaugeVec
	RealizedPnL      prometheus.Gauge
	OracleCostINR    prometheus.Counter
	Halted           prometheus.Gauge
}

// New creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trader",
			Name:      "cycles_total",
			Help:      "Decision cycles executed.",
		}),
		CycleErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trader",
			Name:      "cycle_errors_total",
			Help:      "Cycle failures by taxonomy kind.",
		}, []string{"kind"}),
		CycleOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trader",
			Name:      "cycle_overruns_total",
			Help:      "Ticks skipped because the previous cycle was still running.",
		}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trader",
			Name:      "orders_total",
			Help:      "Orders by side and terminal status.",
		}, []string{"side", "status"}),
		TradesToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trader",
			Name:      "trades_today",
			Help:      "Filled trades so far this trading day.",
		}),
		PositionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trader",
			Name:      "position_state",
			Help:      "Current position lifecycle state (1 for the active state).",
		}, []string{"state"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trader",
			Name:      "realized_pnl_inr",
			Help:      "Realized P&L for the trading day in INR.",
		}),
		OracleCostINR: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trader",
			Name:      "oracle_cost_inr_total",
			Help:      "Cumulative oracle API cost in INR.",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trader",
			Name:      "halted",
			Help:      "1 when trading is halted pending manual reset.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal, m.CycleErrorsTotal, m.CycleOverruns, m.OrdersTotal,
		m.TradesToday, m.PositionState, m.RealizedPnL, m.OracleCostINR, m.Halted,
	)
	return m
}

// NewUnregistered creates the collectors without registering them,
// for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// SetPositionState sets the position-state gauge so exactly one state
// label reads 1.
func (m *Metrics) SetPositionState(state string) {
	for _, s := range []string{"FLAT", "ENTRY_PENDING", "OPEN", "EXIT_PENDING", "REJECTED"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.PositionState.WithLabelValues(s).Set(v)
	}
}
