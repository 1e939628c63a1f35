// Package poolmetrics instruments a pool.Pool with Prometheus collectors.
// Every collector here is labeled by a caller-supplied pool name so one
// process can expose several pools side by side.
package poolmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections tracks the total number of live connections per pool.
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_connections",
		Help: "Number of live connections (idle + checked out) per pool",
	}, []string{"pool"})

	// IdleConnections tracks the number of idle connections per pool.
	IdleConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_idle_connections",
		Help: "Number of idle connections per pool",
	}, []string{"pool"})

	// CheckoutsTotal counts checkout attempts by outcome.
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_checkouts_total",
		Help: "Total checkout attempts by outcome",
	}, []string{"pool", "outcome"})

	// CheckoutWaitSeconds tracks how long callers wait for a connection.
	CheckoutWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_checkout_wait_seconds",
		Help:    "Time spent waiting for a connection to become available",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// ConnectErrorsTotal counts every error reported to a pool's ErrorSink
	// through Sink: connect failures and any other background error alike.
	ConnectErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_connect_errors_total",
		Help: "Total connection errors reported to a pool's ErrorSink",
	}, []string{"pool"})
)

// Sink is a pool.ErrorSink that forwards every error to ConnectErrorsTotal,
// labeled by the pool name it was constructed for.
type Sink struct {
	Pool string
}

// NewSink returns an ErrorSink that reports to ConnectErrorsTotal under the
// given pool name.
func NewSink(poolName string) Sink {
	return Sink{Pool: poolName}
}

// Sink implements pool.ErrorSink.
func (s Sink) Sink(err error) {
	ConnectErrorsTotal.WithLabelValues(s.Pool).Inc()
}

// Observe records a single pool.State() snapshot under the given pool name.
// It deliberately takes plain ints rather than a pool.State so this package
// never needs to import the generic pool package (which would force every
// caller of poolmetrics to share pool's type parameter). Typically called
// from a ticker loop the caller owns (see cmd/poolprobe).
func Observe(poolName string, connections, idle int) {
	Connections.WithLabelValues(poolName).Set(float64(connections))
	IdleConnections.WithLabelValues(poolName).Set(float64(idle))
}

// ObserveCheckout records the outcome and wait time of a single checkout.
// outcome should be one of "ok", "timeout", or "error". cmd/loadgen calls
// this directly around every p.Get, since that's the caller that actually
// knows a checkout's wait duration and outcome; cmd/poolprobe only samples
// aggregate State() and so only ever calls Observe.
func ObserveCheckout(poolName, outcome string, wait time.Duration) {
	CheckoutsTotal.WithLabelValues(poolName, outcome).Inc()
	CheckoutWaitSeconds.WithLabelValues(poolName).Observe(wait.Seconds())
}
