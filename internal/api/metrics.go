// metrics.go - Prometheus metrics for the pool daemon
package api

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HamzaZF/shieldpool/internal/auth"
	"github.com/HamzaZF/shieldpool/internal/pool"
)

const namespace = "shieldpool"

// Metrics owns the daemon's registry. Each Server gets its own so tests can run in parallel.
type Metrics struct {
	Registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
	events      *prometheus.CounterVec
}

// NewMetrics registers the operation metrics and a custody collector reading p.
func NewMetrics(p *pool.Pool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Pool operations by name and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operation_duration_seconds",
			Help:      "Duration of pool operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"op"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-caller rate limiter.",
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "events_streamed_total",
			Help:      "Events written to websocket subscribers.",
		}, []string{"type"}),
	}
	m.Registry.MustRegister(
		m.operations,
		m.duration,
		m.rateLimited,
		m.events,
		newCustodyCollector(p),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation records one pool call. The result label is "ok" or the error kind.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = resultOf(err)
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func resultOf(err error) string {
	if errors.Is(err, errBadRequest) {
		return string(pool.KindValidation)
	}
	if errors.Is(err, auth.ErrUnauthenticated) {
		return string(KindUnauthenticated)
	}
	return string(pool.KindOf(err))
}

// custodyCollector exports held, backed and released balances per token at scrape time.
type custodyCollector struct {
	pool     *pool.Pool
	held     *prometheus.Desc
	backed   *prometheus.Desc
	released *prometheus.Desc
	paused   *prometheus.Desc
}

func newCustodyCollector(p *pool.Pool) *custodyCollector {
	return &custodyCollector{
		pool: p,
		held: prometheus.NewDesc(prometheus.BuildFQName(namespace, "custody", "held"),
			"Tokens held by the pool.", []string{"token"}, nil),
		backed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "custody", "backed"),
			"Sum of unconsumed commitment amounts.", []string{"token"}, nil),
		released: prometheus.NewDesc(prometheus.BuildFQName(namespace, "custody", "released"),
			"Liquidity released by batch processing.", []string{"token"}, nil),
		paused: prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", "paused"),
			"1 when the pool is paused.", nil, nil),
	}
}

func (c *custodyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.held
	ch <- c.backed
	ch <- c.released
	ch <- c.paused
}

func (c *custodyCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.pool.Solvency() {
		token := s.Token.Hex()
		ch <- prometheus.MustNewConstMetric(c.held, prometheus.GaugeValue, toFloat(s.Held), token)
		ch <- prometheus.MustNewConstMetric(c.backed, prometheus.GaugeValue, toFloat(s.Backed), token)
		ch <- prometheus.MustNewConstMetric(c.released, prometheus.GaugeValue, toFloat(s.Released), token)
	}
	paused := 0.0
	if c.pool.IsPaused() {
		paused = 1
	}
	ch <- prometheus.MustNewConstMetric(c.paused, prometheus.GaugeValue, paused)
}

// toFloat is lossy above 2^53; gauges only need the magnitude.
func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
