// Package metrics exports flow execution metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devicelab-dev/uxflow/pkg/executor"
)

const namespace = "uxflow"

// Recorder holds the flow and step metrics.
type Recorder struct {
	flows        *prometheus.CounterVec
	flowDuration *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	stepDuration prometheus.Histogram
	active       prometheus.Gauge
}

// New registers the metrics with reg. Pass prometheus.DefaultRegisterer to
// expose them on promhttp.Handler().
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		flows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_total",
			Help:      "Number of finished flow runs by status.",
		}, []string{"status"}),
		flowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Wall time of flow runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Number of executed steps by outcome.",
		}, []string{"status"}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of executed steps.",
			Buckets:   prometheus.DefBuckets,
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flows_running",
			Help:      "Flow runs currently in progress.",
		}),
	}
}

// Attach chains the recorder into cfg's progress callbacks, keeping any
// callbacks already set.
func (r *Recorder) Attach(cfg *executor.RunnerConfig) {
	prevStart := cfg.OnFlowStart
	cfg.OnFlowStart = func(flowIdx, totalFlows int, name string) {
		r.active.Inc()
		if prevStart != nil {
			prevStart(flowIdx, totalFlows, name)
		}
	}

	prevStep := cfg.OnStepComplete
	cfg.OnStepComplete = func(idx int, desc string, passed bool, durationMs int64, errMsg string) {
		r.steps.WithLabelValues(status(passed)).Inc()
		if passed {
			r.stepDuration.Observe(float64(durationMs) / 1000)
		}
		if prevStep != nil {
			prevStep(idx, desc, passed, durationMs, errMsg)
		}
	}

	prevEnd := cfg.OnFlowEnd
	cfg.OnFlowEnd = func(name string, passed bool, durationMs int64) {
		r.active.Dec()
		r.flows.WithLabelValues(status(passed)).Inc()
		r.flowDuration.WithLabelValues(status(passed)).Observe(float64(durationMs) / 1000)
		if prevEnd != nil {
			prevEnd(name, passed, durationMs)
		}
	}
}

func status(passed bool) string {
	if passed {
		return "success"
	}
	return "error"
}
