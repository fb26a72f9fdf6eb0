// Package telemetry records one PipelineRun and its ProcessingSteps per
// execution and flushes them to every configured sink. The flush happens at
// normal run end, or immediately before a fatal abort is raised, so partial
// telemetry is never lost to an aborting pipeline.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/metrics"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "telemetry"

// Service tracks the lifecycle of one run. Step bookkeeping is synchronized
// so concurrent stages can append safely.
type Service struct {
	mu       sync.Mutex
	run      *model.PipelineRun
	steps    []*model.ProcessingStep
	sinks    []Sink
	recorder metrics.Recorder
}

// NewService creates a Service for a run with the given name.
func NewService(runName string, sinks []Sink, recorder metrics.Recorder) *Service {
	if recorder == nil {
		recorder = metrics.NewNoopRecorder()
	}
	return &Service{
		run:      model.NewPipelineRun(runName),
		sinks:    sinks,
		recorder: recorder,
	}
}

// Run returns the run record.
func (s *Service) Run() *model.PipelineRun {
	return s.run
}

// Steps returns the step records in call order.
func (s *Service) Steps() []*model.ProcessingStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.ProcessingStep(nil), s.steps...)
}

// StartRun transitions the run to RUNNING.
func (s *Service) StartRun(ctx context.Context) error {
	if err := s.run.Start(); err != nil {
		return exception.NewPipelineError(moduleName, "failed to start run", err, false, false)
	}
	s.recorder.RecordRunStart(ctx, s.run)
	logger.Infof("Run %s (%s) started.", s.run.Name, s.run.ID)
	return nil
}

// StartStep creates and starts a new step, registering it on the run in
// call order.
func (s *Service) StartStep(ctx context.Context, stepType, name, targetEntity string) (*model.ProcessingStep, error) {
	step := model.NewProcessingStep(s.run.ID, stepType, name, targetEntity)
	if err := step.Start(); err != nil {
		return nil, exception.NewPipelineError(moduleName, "failed to start step "+name, err, false, false)
	}

	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.run.AddStep(step.ID)
	s.mu.Unlock()

	s.recorder.RecordStepStart(ctx, step)
	logger.Infof("Step '%s' started.", name)
	return step, nil
}

// StopStep stops a step with the given outcome. Transition errors are
// logged, not propagated.
func (s *Service) StopStep(ctx context.Context, step *model.ProcessingStep, status model.StepStatus, comment string) {
	if err := step.Stop(status, comment); err != nil {
		logger.Warnf("Could not stop step '%s': %v", step.Name, err)
		return
	}
	s.recorder.RecordStepEnd(ctx, step)
	logger.Infof("Step '%s' finished with status '%s' in %.3fs.", step.Name, status, step.ElapsedSeconds)
}

// StopRun stops the run and flushes telemetry. Every step must already be
// stopped; a running step is a programming error and is reported instead of
// being silently stopped.
func (s *Service) StopRun(ctx context.Context) error {
	s.mu.Lock()
	for _, step := range s.steps {
		if !step.IsStopped() {
			s.mu.Unlock()
			return exception.NewPipelineError(moduleName,
				"cannot stop run: step '"+step.Name+"' is still running", nil, false, false)
		}
	}
	s.mu.Unlock()

	if err := s.run.Stop(); err != nil {
		return exception.NewPipelineError(moduleName, "failed to stop run", err, false, false)
	}
	s.recorder.RecordRunEnd(ctx, s.run)
	logger.Infof("Run %s stopped after %.3fs.", s.run.ID, s.run.ElapsedSeconds)
	return s.Flush(ctx)
}

// Abort marks the current step with the failure, stops the run, flushes
// telemetry, and returns the run-level error to raise. The flush happens
// before the error is returned, so the sink always holds the aborted run.
func (s *Service) Abort(ctx context.Context, step *model.ProcessingStep, cause error) error {
	if step != nil && !step.IsStopped() {
		if exception.IsSourceDataNotAvailable(cause) {
			s.StopStep(ctx, step, model.StepStatusSourceDataNotAvailable, exception.ExtractErrorMessage(cause))
		} else {
			step.MarkFailed(cause)
			s.recorder.RecordStepEnd(ctx, step)
		}
	}

	s.run.AppendComment(exception.ExtractErrorMessage(cause))
	if err := s.run.Stop(); err != nil {
		logger.Warnf("Could not stop run %s during abort: %v", s.run.ID, err)
	}
	s.recorder.RecordRunEnd(ctx, s.run)

	if err := s.Flush(ctx); err != nil {
		logger.Errorf("Telemetry flush during abort failed: %v", err)
	}

	var pe *exception.PipelineError
	if errors.As(cause, &pe) {
		return pe
	}
	return exception.NewPipelineError(moduleName, "run aborted", cause, false, false)
}

// Flush writes the run and its steps to every sink. Sink failures are
// aggregated; one failing sink does not stop the others.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	steps := append([]*model.ProcessingStep(nil), s.steps...)
	s.mu.Unlock()

	var errs *multierror.Error
	for _, sink := range s.sinks {
		if err := sink.WriteRun(ctx, s.run, steps); err != nil {
			logger.Errorf("Telemetry sink write failed: %v", err)
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
