package metrics

import (
	"TradeEngine/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	transitions *prometheus.CounterVec
	signals     *prometheus.CounterVec
	filters     *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	state       *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeengine_state_transitions_total",
				Help: "State machine transitions by edge",
			},
			[]string{"from", "to"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeengine_signals_total",
				Help: "Trading signals generated",
			},
			[]string{"trigger", "direction"},
		),
		filters: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeengine_filter_evaluations_total",
				Help: "Hard filter evaluations by outcome",
			},
			[]string{"filter", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradeengine_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeengine_last_price",
				Help: "Last close processed for a symbol",
			},
			[]string{"symbol"},
		),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradeengine_state",
				Help: "1 for the current lifecycle state, 0 otherwise",
			},
			[]string{"state"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradeengine_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordTransition(from, to models.SystemState) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) RecordSignal(trigger models.Trigger, dir models.Direction) {
	r.signals.WithLabelValues(string(trigger), string(dir)).Inc()
}

func (r *Recorder) RecordFilter(name string, passed bool) {
	result := "pass"
	if !passed {
		result = "block"
	}
	r.filters.WithLabelValues(name, result).Inc()
}

// SetState flips the one-hot state gauge.
func (r *Recorder) SetState(state models.SystemState) {
	for _, s := range models.AllStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(string(s)).Set(v)
	}
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordError(string)                                      {}
func (Nop) RecordLatency(string, float64)                           {}
func (Nop) RecordLastPrice(string, float64)                         {}
func (Nop) RecordTransition(models.SystemState, models.SystemState) {}
func (Nop) RecordSignal(models.Trigger, models.Direction)           {}
func (Nop) RecordFilter(string, bool)                               {}
func (Nop) SetState(models.SystemState)                             {}
