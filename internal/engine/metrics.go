package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetrun_executions_total",
			Help: "Total number of finished executions by language and final status.",
		},
		[]string{"language", "status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snippetrun_execution_duration_seconds",
			Help:    "Wall-clock duration of supervised processes, compile step included.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"language"},
	)

	admissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snippetrun_admission_wait_seconds",
			Help:    "Time spent waiting for a free execution slot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queuedExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snippetrun_queued_executions",
			Help: "Executions waiting for a free slot.",
		},
	)

	installsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippetrun_package_installs_total",
			Help: "Total number of package installs by language and final status.",
		},
		[]string{"language", "status"},
	)

	liveProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snippetrun_live_processes",
			Help: "Runtime processes currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(admissionWait)
	prometheus.MustRegister(queuedExecutions)
	prometheus.MustRegister(liveProcesses)
	prometheus.MustRegister(installsTotal)
}
