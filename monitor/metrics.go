package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "proc_enforcer"

// Metrics are the agent's Prometheus collectors.
type Metrics struct {
	Cycles         prometheus.Counter
	CycleErrors    prometheus.Counter
	CycleDuration  prometheus.Histogram
	Processes      prometheus.Gauge
	Tracked        prometheus.Gauge
	Events         *prometheus.CounterVec
	Terminations   *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	SampleFailures prometheus.Counter
	SystemCPU      prometheus.Gauge
	SystemRAM      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed polling cycles.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycles skipped because processes could not be enumerated.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent evaluating one cycle, excluding the sleep.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Processes seen in the last cycle.",
		}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_processes",
			Help:      "Processes with anomaly state.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Emitted events by kind.",
		}, []string{"kind"}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Termination attempts by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed event writes by sink.",
		}, []string{"sink"}),
		SampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_failures_total",
			Help:      "Per-process resource reads that failed.",
		}),
		SystemCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_cpu_percent",
			Help:      "Sum of sampled process cpu usage in the last cycle.",
		}),
		SystemRAM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_ram_percent",
			Help:      "Sum of sampled process resident memory in the last cycle.",
		}),
	}

	reg.MustRegister(
		m.Cycles, m.CycleErrors, m.CycleDuration, m.Processes, m.Tracked,
		m.Events, m.Terminations, m.SinkErrors, m.SampleFailures, m.SystemCPU, m.SystemRAM,
	)
	return m
}
