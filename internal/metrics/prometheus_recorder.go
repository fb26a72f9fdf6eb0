package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the Recorder
// interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	itemsWritten        *prometheus.CounterVec
	itemErrors          *prometheus.CounterVec
	vendorCallSeconds   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with its own
// registry, including the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regsync_run_duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"run_name", "state"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_run_status_total",
			Help: "Total number of pipeline runs by state.",
		}, []string{"run_name", "state"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regsync_step_duration_seconds",
			Help:    "Duration of processing steps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"run_name", "step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_step_status_total",
			Help: "Total number of processing steps by outcome.",
		}, []string{"run_name", "step_name", "status"}),
		itemsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_items_written_total",
			Help: "Total rows written per target entity.",
		}, []string{"entity"}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regsync_item_errors_total",
			Help: "Total classified item-level failures by stage and kind.",
		}, []string{"stage", "kind"}),
		vendorCallSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regsync_vendor_call_duration_seconds",
			Help:    "Duration of vendor API calls by traversal stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.stepDurationSeconds)
	registry.MustRegister(r.stepStatusCounter)
	registry.MustRegister(r.itemsWritten)
	registry.MustRegister(r.itemErrors)
	registry.MustRegister(r.vendorCallSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart records the start of a PipelineRun.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.PipelineRun) {
	r.runStatusCounter.WithLabelValues(run.Name, string(run.State)).Inc()
	logger.Debugf("Metrics: run '%s' started.", run.Name)
}

// RecordRunEnd records the end of a PipelineRun.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.PipelineRun) {
	if run.EndTime == nil {
		return
	}
	r.runDurationSeconds.WithLabelValues(run.Name, string(run.State)).Observe(run.ElapsedSeconds)
	logger.Debugf("Metrics: run '%s' ended. Duration: %.3fs", run.Name, run.ElapsedSeconds)
}

// RecordStepStart records the start of a ProcessingStep.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, step *model.ProcessingStep) {
	r.stepStatusCounter.WithLabelValues(step.RunID, step.Name, string(step.State)).Inc()
}

// RecordStepEnd records the end of a ProcessingStep.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, step *model.ProcessingStep) {
	if step.EndTime == nil {
		return
	}
	r.stepDurationSeconds.WithLabelValues(step.RunID, step.Name, step.Status.String()).Observe(step.ElapsedSeconds)
	r.stepStatusCounter.WithLabelValues(step.RunID, step.Name, step.Status.String()).Inc()
}

// RecordItemsWritten records rows written to a target entity.
func (r *PrometheusRecorder) RecordItemsWritten(ctx context.Context, entity string, count int) {
	r.itemsWritten.WithLabelValues(entity).Add(float64(count))
}

// RecordItemError records a classified item-level failure.
func (r *PrometheusRecorder) RecordItemError(ctx context.Context, stage string, kind string) {
	r.itemErrors.WithLabelValues(stage, kind).Inc()
}

// RecordVendorCall records one vendor API call.
func (r *PrometheusRecorder) RecordVendorCall(ctx context.Context, stage string, duration time.Duration) {
	r.vendorCallSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

var _ Recorder = (*PrometheusRecorder)(nil)
