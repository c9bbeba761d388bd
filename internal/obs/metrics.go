// Package obs exposes supervisor state and sensor values to Prometheus,
// HTTP probes and the gRPC health service.
package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/soilwatch/internal/model"
	"github.com/LeonardoBeccarini/soilwatch/internal/retry"
)

var connStates = []model.ConnState{model.Disconnected, model.Connecting, model.Connected}

type Metrics struct {
	ConnectAttempts *prometheus.CounterVec   // supervisor, outcome
	AttemptSeconds  *prometheus.HistogramVec // supervisor
	ConnState       *prometheus.GaugeVec     // supervisor, state
	Transitions     *prometheus.CounterVec   // supervisor, to
	Failures        *prometheus.GaugeVec     // supervisor; consecutive, reset on connect

	Moisture prometheus.Gauge
	RawValue prometheus.Gauge
	Samples  prometheus.Counter
	Alerts   prometheus.Counter
}

// NewMetrics registers on reg; pass a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilwatch_connect_attempts_total",
			Help: "Connection attempts by supervisor and outcome",
		}, []string{"supervisor", "outcome"}),
		AttemptSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soilwatch_connect_attempt_seconds",
			Help:    "Time spent in a connection attempt",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"supervisor"}),
		ConnState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soilwatch_connection_state",
			Help: "1 for the current state of each supervisor, 0 otherwise",
		}, []string{"supervisor", "state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilwatch_connection_transitions_total",
			Help: "State transitions by supervisor and target state",
		}, []string{"supervisor", "to"}),
		Failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "soilwatch_reconnect_failures",
			Help: "Consecutive failed attempts since the last successful connect",
		}, []string{"supervisor"}),
		Moisture: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilwatch_moisture_percent",
			Help: "Last published soil moisture",
		}),
		RawValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilwatch_sensor_raw",
			Help: "Last raw ADC reading",
		}),
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soilwatch_samples_total",
			Help: "Sensor samples taken",
		}),
		Alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soilwatch_watering_alerts_total",
			Help: "Needs-watering signals raised",
		}),
	}
	reg.MustRegister(
		m.ConnectAttempts,
		m.AttemptSeconds,
		m.ConnState,
		m.Transitions,
		m.Failures,
		m.Moisture,
		m.RawValue,
		m.Samples,
		m.Alerts,
	)
	return m
}

// OnAttempt implements retry.Observer.
func (m *Metrics) OnAttempt(supervisor string, res retry.Result) {
	m.ConnectAttempts.WithLabelValues(supervisor, res.Outcome.String()).Inc()
	m.AttemptSeconds.WithLabelValues(supervisor).Observe(res.Elapsed.Seconds())
	if res.Failed() {
		m.Failures.WithLabelValues(supervisor).Inc()
	}
}

// OnTransition implements retry.Observer.
func (m *Metrics) OnTransition(supervisor string, _, to model.ConnState) {
	for _, s := range connStates {
		v := 0.0
		if s == to {
			v = 1
		}
		m.ConnState.WithLabelValues(supervisor, s.String()).Set(v)
	}
	m.Transitions.WithLabelValues(supervisor, to.String()).Inc()
	if to == model.Connected {
		m.Failures.WithLabelValues(supervisor).Set(0)
	}
}

// RecordReading implements sensor.Sink.
func (m *Metrics) RecordReading(r model.ReadingMessage) {
	m.Samples.Inc()
	m.Moisture.Set(float64(r.Moisture))
	m.RawValue.Set(float64(r.Raw))
}

// Alert counts signals; it sits in the alerter fan-out.
func (m *Metrics) Alert(context.Context, model.AlertMessage) error {
	m.Alerts.Inc()
	return nil
}

// RegisterThreshold exposes the live threshold as a gauge.
func RegisterThreshold(reg prometheus.Registerer, get func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "soilwatch_threshold_percent",
		Help: "Configured minimum moisture",
	}, func() float64 { return float64(get()) }))
}
