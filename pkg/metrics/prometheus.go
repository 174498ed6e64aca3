package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	eventsTotal     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	reconnectsTotal *prometheus.CounterVec
	connState       *prometheus.GaugeVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_events_total",
				Help: "Total number of feed events received",
			},
			[]string{"stream"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketlens_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
			[]string{"stream"},
		),
		connState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketlens_conn_state",
				Help: "Stream connection state (1: live, 0: not live)",
			},
			[]string{"stream"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketlens_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketlens_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordEvent records one received feed event.
func (r *Recorder) RecordEvent(stream string) {
	r.eventsTotal.WithLabelValues(stream).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordReconnect records a reconnect attempt.
func (r *Recorder) RecordReconnect(stream string) {
	r.reconnectsTotal.WithLabelValues(stream).Inc()
}

// RecordConnState records the stream connection state.
func (r *Recorder) RecordConnState(stream string, state float64) {
	r.connState.WithLabelValues(stream).Set(state)
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
