// Package metrics provides Prometheus metrics for the trading system.
package metrics

import (
	"sync"
	"time"

	"github.com/phenomenon0/injective-agents/pkg/injective/derivative"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// TradingMetrics collects and exposes trading-related Prometheus metrics.
// It is a derivative.Observer.
type TradingMetrics struct {
	registry *prometheus.Registry

	// Order metrics
	OrdersTotal   *prometheus.CounterVec
	OrderDuration *prometheus.HistogramVec
	OrderNotional *prometheus.HistogramVec
	OrderLeverage *prometheus.HistogramVec

	// Position metrics
	PositionReads  *prometheus.CounterVec
	OpenPositions  *prometheus.GaugeVec
	PositionSize   *prometheus.GaugeVec
	PositionValue  *prometheus.GaugeVec
	PositionMargin *prometheus.GaugeVec
	UnrealizedPnL  *prometheus.GaugeVec

	// Paper trading metrics
	PaperTrades  *prometheus.CounterVec
	PaperVolume  *prometheus.CounterVec
	PaperFees    prometheus.Counter
	PaperBalance prometheus.Gauge

	// Policy metrics
	PolicyViolations  *prometheus.CounterVec
	DailyOrdersUsed   prometheus.Gauge
	DailyNotionalUsed prometheus.Gauge

	// Tool metrics
	ToolCalls   *prometheus.CounterVec
	ToolLatency *prometheus.HistogramVec
}

// NewTradingMetrics creates a new trading metrics collector.
func NewTradingMetrics() *TradingMetrics {
	registry := prometheus.NewRegistry()

	tm := &TradingMetrics{
		registry: registry,

		// Order metrics
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_orders_total",
				Help: "Total number of derivative order attempts",
			},
			[]string{"network", "kind", "order_type", "status"},
		),
		OrderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "injective_order_duration_seconds",
				Help:    "Time from order request to broadcast or rejection",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"network", "kind"},
		),
		OrderNotional: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "injective_order_notional_usd",
				Help:    "Broadcast order notional in quote units",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000},
			},
			[]string{"side"},
		),
		OrderLeverage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "injective_order_leverage",
				Help:    "Effective leverage (notional over margin) of broadcast orders",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"kind"},
		),

		// Position metrics
		PositionReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_position_reads_total",
				Help: "Total number of successful position reads",
			},
			[]string{"network"},
		),
		OpenPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "injective_open_positions",
				Help: "Open positions in the last read",
			},
			[]string{"network"},
		),
		PositionSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "injective_position_size",
				Help: "Current position size in base units, negative when short",
			},
			[]string{"network", "market"},
		),
		PositionValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "injective_position_value_usd",
				Help: "Current position value at the mark price",
			},
			[]string{"network", "market"},
		),
		PositionMargin: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "injective_position_margin_usd",
				Help: "Margin posted to the position",
			},
			[]string{"network", "market"},
		),
		UnrealizedPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "injective_unrealized_pnl_usd",
				Help: "Unrealized P&L as reported with the position",
			},
			[]string{"network", "market"},
		),

		// Paper trading metrics
		PaperTrades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_paper_trades_total",
				Help: "Total number of simulated fills",
			},
			[]string{"side", "market"},
		),
		PaperVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_paper_volume_usd",
				Help: "Total simulated volume",
			},
			[]string{"side"},
		),
		PaperFees: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "injective_paper_fees_usd",
				Help: "Total simulated fees",
			},
		),
		PaperBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "injective_paper_balance_usd",
				Help: "Simulated account balance",
			},
		),

		// Policy metrics
		PolicyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_policy_violations_total",
				Help: "Orders blocked by the pre-trade policy",
			},
			[]string{"network"},
		),
		DailyOrdersUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "injective_policy_daily_orders",
				Help: "Orders counted against today's limit",
			},
		),
		DailyNotionalUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "injective_policy_daily_notional_usd",
				Help: "Notional counted against today's limit",
			},
		),

		// Tool metrics
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "injective_tool_calls_total",
				Help: "Agent tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "injective_tool_latency_seconds",
				Help:    "Agent tool latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}

	// Register all metrics
	tm.registerAll()

	return tm
}

func (tm *TradingMetrics) registerAll() {
	tm.registry.MustRegister(
		tm.OrdersTotal,
		tm.OrderDuration,
		tm.OrderNotional,
		tm.OrderLeverage,
		tm.PositionReads,
		tm.OpenPositions,
		tm.PositionSize,
		tm.PositionValue,
		tm.PositionMargin,
		tm.UnrealizedPnL,
		tm.PaperTrades,
		tm.PaperVolume,
		tm.PaperFees,
		tm.PaperBalance,
		tm.PolicyViolations,
		tm.DailyOrdersUsed,
		tm.DailyNotionalUsed,
		tm.ToolCalls,
		tm.ToolLatency,
	)
}

// Registry returns the prometheus registry.
func (tm *TradingMetrics) Registry() *prometheus.Registry {
	return tm.registry
}

// --- Observer ---

// ObserveOrder records an order attempt.
func (tm *TradingMetrics) ObserveOrder(ev derivative.OrderEvent) {
	status := "broadcast"
	if !ev.Succeeded() {
		status = string(ev.ErrorKind)
		if status == "" {
			status = "error"
		}
	}

	tm.OrdersTotal.WithLabelValues(ev.Network, string(ev.Kind), ev.OrderType.String(), status).Inc()
	tm.OrderDuration.WithLabelValues(ev.Network, string(ev.Kind)).Observe(ev.Duration.Seconds())

	if ev.ErrorKind == derivative.KindPolicy {
		tm.PolicyViolations.WithLabelValues(ev.Network).Inc()
	}
	if !ev.Succeeded() {
		return
	}

	side := "sell"
	if ev.OrderType.IsBuy() {
		side = "buy"
	}
	notional := ev.Price.Mul(ev.Quantity)
	tm.OrderNotional.WithLabelValues(side).Observe(DecimalToFloat64(notional))
	if ev.Margin.IsPositive() {
		tm.OrderLeverage.WithLabelValues(string(ev.Kind)).Observe(DecimalToFloat64(notional.Div(ev.Margin)))
	}
}

// ObservePositions replaces the position gauges of ev's network with the
// positions it carries.
func (tm *TradingMetrics) ObservePositions(ev derivative.PositionsEvent) {
	tm.PositionReads.WithLabelValues(ev.Network).Inc()
	tm.OpenPositions.WithLabelValues(ev.Network).Set(float64(len(ev.Positions)))

	stale := prometheus.Labels{"network": ev.Network}
	tm.PositionSize.DeletePartialMatch(stale)
	tm.PositionValue.DeletePartialMatch(stale)
	tm.PositionMargin.DeletePartialMatch(stale)
	tm.UnrealizedPnL.DeletePartialMatch(stale)

	for _, p := range ev.Positions {
		market := p.Ticker
		if market == "" {
			market = p.MarketID
		}
		qty := parse(p.Quantity)
		if p.Direction == derivative.DirectionShort {
			qty = qty.Neg()
		}
		tm.PositionSize.WithLabelValues(ev.Network, market).Set(DecimalToFloat64(qty))
		tm.PositionValue.WithLabelValues(ev.Network, market).Set(DecimalToFloat64(qty.Abs().Mul(parse(p.MarkPrice))))
		tm.PositionMargin.WithLabelValues(ev.Network, market).Set(DecimalToFloat64(parse(p.Margin)))
		tm.UnrealizedPnL.WithLabelValues(ev.Network, market).Set(DecimalToFloat64(parse(p.UnrealizedPnl)))
	}
}

// --- Helper methods for recording metrics ---

// RecordPaperTrade records a simulated fill. Amounts are in quote units.
func (tm *TradingMetrics) RecordPaperTrade(side, market string, volumeUSD, feeUSD float64) {
	tm.PaperTrades.WithLabelValues(side, market).Inc()
	tm.PaperVolume.WithLabelValues(side).Add(volumeUSD)
	if feeUSD > 0 {
		tm.PaperFees.Add(feeUSD)
	}
}

// UpdatePaperBalance sets the simulated balance.
func (tm *TradingMetrics) UpdatePaperBalance(balanceUSD float64) {
	tm.PaperBalance.Set(balanceUSD)
}

// UpdatePolicy updates policy metrics.
func (tm *TradingMetrics) UpdatePolicy(dailyOrders int, dailyNotionalUSD float64) {
	tm.DailyOrdersUsed.Set(float64(dailyOrders))
	tm.DailyNotionalUsed.Set(dailyNotionalUSD)
}

// RecordToolCall records an agent tool invocation.
func (tm *TradingMetrics) RecordToolCall(tool, status string, latency time.Duration) {
	tm.ToolCalls.WithLabelValues(tool, status).Inc()
	tm.ToolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// --- Decimal helpers ---

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// parse reads a display string, treating anything unparsable as zero.
func parse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Global instance for convenience
var defaultMetrics *TradingMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *TradingMetrics {
	once.Do(func() {
		defaultMetrics = NewTradingMetrics()
	})
	return defaultMetrics
}
