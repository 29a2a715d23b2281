// Package metrics provides the Prometheus collectors exported by the service.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "decupagem"

var (
	// masteringStages counts mastering stage outcomes.
	masteringStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mastering_stage_total",
			Help:      "Mastering stages executed, by stage and outcome",
		},
		[]string{"stage", "outcome"}, // outcome: applied, skipped, degraded
	)

	// codecOperations counts external codec invocations.
	codecOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codec_operations_total",
			Help:      "External codec invocations, by operation and status",
		},
		[]string{"op", "status"}, // status: success, error, timeout, unavailable
	)

	// jobsTotal counts finished jobs.
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs, by kind and final status",
		},
		[]string{"kind", "status"},
	)

	// jobDuration is a histogram of job execution time.
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"kind"},
	)

	// jobsActive is the number of jobs holding a worker slot.
	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently executing",
		},
	)
)

// Register adds all collectors to reg. Collectors that are already
// registered are ignored so tests can build several servers.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		masteringStages, codecOperations, jobsTotal, jobDuration, jobsActive,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordStage records the outcome of one mastering stage.
func RecordStage(stage, outcome string) {
	masteringStages.WithLabelValues(stage, outcome).Inc()
}

// RecordCodec records one external codec invocation.
func RecordCodec(op, status string) {
	codecOperations.WithLabelValues(op, status).Inc()
}

// RecordJob records a finished job.
func RecordJob(kind, status string, seconds float64) {
	jobsTotal.WithLabelValues(kind, status).Inc()
	jobDuration.WithLabelValues(kind).Observe(seconds)
}

// JobStarted increments the active job gauge.
func JobStarted() { jobsActive.Inc() }

// JobFinished decrements the active job gauge.
func JobFinished() { jobsActive.Dec() }
