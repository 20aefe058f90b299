// Package metrics instruments the engine and runner with Prometheus
// collectors, generalized from the teacher's cmd/worker metrics
// (tasksProcessed/taskDuration/queueDepth) to asynx's (app, queue)
// domain instead of a generic task "type" label.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder instruments task dispatch, outbound call duration, queue
// depth, and broker job outcomes. It implements runner.Metrics.
type Recorder struct {
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec
	brokerJobs *prometheus.CounterVec
}

// New registers the collectors against the default Prometheus registry.
// Construct exactly one Recorder per process.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors against reg instead of the
// default registry — tests use this with a fresh prometheus.NewRegistry()
// so repeated Recorder construction doesn't panic on duplicate names.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asynx_tasks_dispatched_total",
			Help: "Total number of tasks dispatched, by outcome.",
		}, []string{"app", "queue", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asynx_task_duration_seconds",
			Help:    "Duration of a task's outbound HTTP call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"app", "queue"}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asynx_queue_depth",
			Help: "Number of jobs currently held by each broker index.",
		}, []string{"app", "queue", "index"}),

		brokerJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asynx_broker_jobs_total",
			Help: "Total number of broker enqueue operations, by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveDispatch implements runner.Metrics.
func (r *Recorder) ObserveDispatch(app, queue, status string) {
	r.dispatched.WithLabelValues(app, queue, status).Inc()
}

// ObserveDuration implements runner.Metrics.
func (r *Recorder) ObserveDuration(app, queue string, d time.Duration) {
	r.duration.WithLabelValues(app, queue).Observe(d.Seconds())
}

// SetQueueDepth records the current size of one broker index (ready,
// processing, delayed), the analogue of the teacher's collectQueueMetrics
// loop generalized to asynx's per-(app,queue) gauges.
func (r *Recorder) SetQueueDepth(app, queue, index string, depth int64) {
	r.queueDepth.WithLabelValues(app, queue, index).Set(float64(depth))
}

// ObserveBrokerJob records the outcome ("ok" or "error") of a broker
// enqueue attempt or of a delayed-job mover run.
func (r *Recorder) ObserveBrokerJob(outcome string) {
	r.brokerJobs.WithLabelValues(outcome).Inc()
}
