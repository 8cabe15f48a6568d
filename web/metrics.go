// File: web/metrics.go
package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jsj9346/makenaide-sub002/pkg/executor"
)

// Metrics exposes the session's execution counters to Prometheus. Values
// are republished from the session accumulator once per trading cycle.
type Metrics struct {
	ordersAttempted  prometheus.Gauge
	ordersByOutcome  *prometheus.GaugeVec
	totalNotionalKRW prometheus.Gauge
	totalFeesKRW     prometheus.Gauge
	openPositions    prometheus.Gauge
	circuitBreaker   prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		ordersAttempted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "makenaide_orders_attempted_total",
			Help: "Order attempts this session.",
		}),
		ordersByOutcome: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "makenaide_orders_by_outcome",
			Help: "Order attempts this session, by terminal status bucket.",
		}, []string{"outcome"}),
		totalNotionalKRW: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "makenaide_filled_notional_krw_total",
			Help: "Total filled notional this session, in KRW.",
		}),
		totalFeesKRW: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "makenaide_fees_krw_total",
			Help: "Total fees paid this session, in KRW.",
		}),
		openPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "makenaide_open_positions",
			Help: "Open positions currently tracked.",
		}),
		circuitBreaker: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "makenaide_circuit_breaker_tripped",
			Help: "1 when the circuit breaker has halted trading.",
		}),
	}
}

// Publish pushes one stats snapshot into the gauges.
func (m *Metrics) Publish(stats executor.SessionStats, openPositions int, circuitBreakerTripped bool) {
	m.ordersAttempted.Set(float64(stats.Attempted))
	m.ordersByOutcome.WithLabelValues("full_filled").Set(float64(stats.FullFilled))
	m.ordersByOutcome.WithLabelValues("partial_filled").Set(float64(stats.PartialFilled))
	m.ordersByOutcome.WithLabelValues("partial_then_cancelled").Set(float64(stats.PartialCancelled))
	m.ordersByOutcome.WithLabelValues("failed").Set(float64(stats.Failed))
	m.ordersByOutcome.WithLabelValues("cancelled").Set(float64(stats.Cancelled))
	m.totalNotionalKRW.Set(stats.TotalNotionalKRW)
	m.totalFeesKRW.Set(stats.TotalFeesKRW)
	m.openPositions.Set(float64(openPositions))
	if circuitBreakerTripped {
		m.circuitBreaker.Set(1)
	} else {
		m.circuitBreaker.Set(0)
	}
}
