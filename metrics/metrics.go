package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus series served on /metrics
// ═══════════════════════════════════════════════════════════════════════════════

var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windowbot_decisions_total",
			Help: "Decisions by kind (enter, exit, none) and reason code",
		},
		[]string{"decision", "code"},
	)

	Orders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windowbot_orders_total",
			Help: "Order attempts by side and result (filled, rejected, error)",
		},
		[]string{"mode", "side", "result"},
	)

	OrderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "windowbot_order_duration_seconds",
			Help:    "Gateway round trip per order",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windowbot_settlements_total",
			Help: "Positions closed by settlement or sale, by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	Bankroll = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windowbot_bankroll_usdc",
		Help: "Bankroll after realized P&L",
	})

	PeriodPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windowbot_period_pnl_usdc",
		Help: "Realized P&L for the current UTC day",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windowbot_open_positions",
		Help: "Open positions held by this instance",
	})

	LeaseContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windowbot_lease_contention_total",
		Help: "Ticks skipped because another instance held the trade lease",
	})

	BreakerTripped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windowbot_breaker_tripped",
		Help: "1 while the gateway error breaker pauses submissions",
	})

	RecorderDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windowbot_audit_dropped_total",
		Help: "Audit records dropped because the write buffer was full",
	})

	MirrorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "windowbot_mirror_dropped_total",
		Help: "Mirror writes dropped because the queue was full",
	})

	Spot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windowbot_spot_price",
		Help: "Last observed underlying spot price",
	})
)
