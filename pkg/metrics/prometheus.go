package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	refreshTotal   *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	broadcastTotal *prometheus.CounterVec
	connections    prometheus.Gauge
	connClosed     *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	tickLatency    *prometheus.HistogramVec
	ticksSkipped   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
}

// New registers the pipeline metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_cache_refresh_total",
				Help: "Cache refresh attempts by source and result",
			},
			[]string{"source", "result"},
		),
		refreshLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulseboard_cache_refresh_seconds",
				Help:    "Upstream fetch duration per refresh attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		broadcastTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_broadcast_sends_total",
				Help: "Per-connection sends by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pulseboard_live_connections",
			Help: "Currently registered live connections",
		}),
		connClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_connections_closed_total",
				Help: "Closed live connections by reason",
			},
			[]string{"reason"},
		),
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_alerts_total",
				Help: "Alert evaluations that held, by class and whether cooldown let them fire",
			},
			[]string{"class", "outcome"},
		),
		tickLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulseboard_tick_seconds",
				Help:    "Duration of coordinator task runs",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"task"},
		),
		ticksSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_ticks_skipped_total",
				Help: "Ticks skipped because the previous run was still in progress",
			},
			[]string{"task"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulseboard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordRefresh(source, result string, seconds float64) {
	r.refreshTotal.WithLabelValues(source, result).Inc()
	r.refreshLatency.WithLabelValues(source).Observe(seconds)
}

func (r *Recorder) RecordBroadcast(event string, delivered, dropped int) {
	if delivered > 0 {
		r.broadcastTotal.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		r.broadcastTotal.WithLabelValues(event, "dropped").Add(float64(dropped))
	}
}

func (r *Recorder) SetConnections(n int) {
	r.connections.Set(float64(n))
}

func (r *Recorder) RecordConnectionClosed(reason string) {
	r.connClosed.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordAlert(class string, fired bool) {
	outcome := "suppressed"
	if fired {
		outcome = "fired"
	}
	r.alertsTotal.WithLabelValues(class, outcome).Inc()
}

func (r *Recorder) RecordTick(task string, seconds float64, skipped bool) {
	if skipped {
		r.ticksSkipped.WithLabelValues(task).Inc()
		return
	}
	r.tickLatency.WithLabelValues(task).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordRefresh(string, string, float64) {}
func (Nop) RecordBroadcast(string, int, int)      {}
func (Nop) SetConnections(int)                    {}
func (Nop) RecordConnectionClosed(string)         {}
func (Nop) RecordAlert(string, bool)              {}
func (Nop) RecordTick(string, float64, bool)      {}
func (Nop) RecordError(string)                    {}
