// Package metrics abstracts metric collection for pipeline runs so the
// telemetry layer does not depend on a concrete backend.
package metrics

import (
	"context"
	"time"

	"github.com/varilab/regsync/internal/domain/model"
)

// Recorder records metrics for run, step and item-level events.
type Recorder interface {
	// RecordRunStart records the start of a PipelineRun.
	RecordRunStart(ctx context.Context, run *model.PipelineRun)

	// RecordRunEnd records the end of a PipelineRun.
	RecordRunEnd(ctx context.Context, run *model.PipelineRun)

	// RecordStepStart records the start of a ProcessingStep.
	RecordStepStart(ctx context.Context, step *model.ProcessingStep)

	// RecordStepEnd records the end of a ProcessingStep.
	RecordStepEnd(ctx context.Context, step *model.ProcessingStep)

	// RecordItemsWritten records items written to a target entity.
	RecordItemsWritten(ctx context.Context, entity string, count int)

	// RecordItemError records a classified item-level failure.
	RecordItemError(ctx context.Context, stage string, kind string)

	// RecordVendorCall records one call against the vendor API.
	RecordVendorCall(ctx context.Context, stage string, duration time.Duration)
}

// NoopRecorder discards every metric. It is used when no backend is wired.
type NoopRecorder struct{}

// NewNoopRecorder creates a new NoopRecorder.
func NewNoopRecorder() Recorder {
	return &NoopRecorder{}
}

func (r *NoopRecorder) RecordRunStart(ctx context.Context, run *model.PipelineRun)          {}
func (r *NoopRecorder) RecordRunEnd(ctx context.Context, run *model.PipelineRun)            {}
func (r *NoopRecorder) RecordStepStart(ctx context.Context, step *model.ProcessingStep)     {}
func (r *NoopRecorder) RecordStepEnd(ctx context.Context, step *model.ProcessingStep)       {}
func (r *NoopRecorder) RecordItemsWritten(ctx context.Context, entity string, count int)    {}
func (r *NoopRecorder) RecordItemError(ctx context.Context, stage string, kind string)      {}
func (r *NoopRecorder) RecordVendorCall(ctx context.Context, stage string, d time.Duration) {}

var _ Recorder = (*NoopRecorder)(nil)
