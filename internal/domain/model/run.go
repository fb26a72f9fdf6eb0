package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// RunState represents the lifecycle state of a PipelineRun or ProcessingStep.
type RunState string

const (
	StateCreated RunState = "CREATED"
	StateRunning RunState = "RUNNING"
	StateStopped RunState = "STOPPED"
)

// StepStatus represents the outcome recorded on a stopped ProcessingStep.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "Success"
	StepStatusError   StepStatus = "Error"
	// StepStatusSourceDataNotAvailable marks a step whose required upstream
	// dataset was empty at run start. The run stops immediately after.
	StepStatusSourceDataNotAvailable StepStatus = "Source Data Not Available"
	// StepStatusTimeout marks a step aborted by an expired deadline. It is
	// deliberately distinct from a generic transport error.
	StepStatusTimeout StepStatus = "Timeout"
)

// String returns the string representation of the StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// TimestampFormat is the fixed format used to re-express start/stop times
// as transport-ready strings when a run or step stops.
const TimestampFormat = "2006-01-02T15:04:05Z0700"

// PipelineRun is one execution of the sync pipeline. It owns an ordered
// list of ProcessingStep identifiers in call order.
type PipelineRun struct {
	ID             string
	Name           string
	State          RunState
	StartTime      time.Time
	EndTime        *time.Time
	StartFormatted string
	EndFormatted   string
	ElapsedSeconds float64
	StepIDs        []string
	Comments       string
}

// ProcessingStep is one stage of a PipelineRun. Steps are append-only and
// immutable once stopped.
type ProcessingStep struct {
	ID             string
	RunID          string
	Type           string
	Name           string
	TargetEntity   string
	State          RunState
	Status         StepStatus
	StartTime      time.Time
	EndTime        *time.Time
	StartFormatted string
	EndFormatted   string
	ElapsedSeconds float64
	Comment        string
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewPipelineRun creates a new PipelineRun in the CREATED state.
func NewPipelineRun(name string) *PipelineRun {
	return &PipelineRun{
		ID:      NewID(),
		Name:    name,
		State:   StateCreated,
		StepIDs: make([]string, 0),
	}
}

// Start transitions the run to RUNNING and records the start time.
func (r *PipelineRun) Start() error {
	if r.State != StateCreated {
		return fmt.Errorf("PipelineRun (ID: %s): invalid state transition: %s -> %s", r.ID, r.State, StateRunning)
	}
	r.State = StateRunning
	r.StartTime = time.Now()
	return nil
}

// Stop transitions the run to STOPPED, computes the elapsed time and
// formats both timestamps. Stopping a stopped run is an error.
func (r *PipelineRun) Stop() error {
	if r.State != StateRunning {
		return fmt.Errorf("PipelineRun (ID: %s): invalid state transition: %s -> %s", r.ID, r.State, StateStopped)
	}
	now := time.Now()
	r.State = StateStopped
	r.EndTime = &now
	r.ElapsedSeconds = now.Sub(r.StartTime).Seconds()
	r.StartFormatted = r.StartTime.Format(TimestampFormat)
	r.EndFormatted = now.Format(TimestampFormat)
	return nil
}

// IsStopped reports whether the run has reached its terminal state.
func (r *PipelineRun) IsStopped() bool {
	return r.State == StateStopped
}

// AddStep appends a step identifier, preserving call order.
func (r *PipelineRun) AddStep(stepID string) {
	r.StepIDs = append(r.StepIDs, stepID)
}

// AppendComment appends a comment fragment to the run, separated from any
// existing comment with "; ".
func (r *PipelineRun) AppendComment(comment string) {
	if comment == "" {
		return
	}
	if r.Comments == "" {
		r.Comments = comment
		return
	}
	r.Comments = r.Comments + "; " + comment
}

// NewProcessingStep creates a new ProcessingStep in the CREATED state,
// owned by the given run.
func NewProcessingStep(runID, stepType, name, targetEntity string) *ProcessingStep {
	return &ProcessingStep{
		ID:           NewID(),
		RunID:        runID,
		Type:         stepType,
		Name:         name,
		TargetEntity: targetEntity,
		State:        StateCreated,
	}
}

// Start transitions the step to RUNNING and records the start time.
func (s *ProcessingStep) Start() error {
	if s.State != StateCreated {
		return fmt.Errorf("ProcessingStep (ID: %s): invalid state transition: %s -> %s", s.ID, s.State, StateRunning)
	}
	s.State = StateRunning
	s.StartTime = time.Now()
	return nil
}

// Stop transitions the step to STOPPED with the given outcome and comment.
// The step is immutable afterwards; a second Stop is rejected.
func (s *ProcessingStep) Stop(status StepStatus, comment string) error {
	if s.State != StateRunning {
		return fmt.Errorf("ProcessingStep (ID: %s): invalid state transition: %s -> %s", s.ID, s.State, StateStopped)
	}
	now := time.Now()
	s.State = StateStopped
	s.Status = status
	s.Comment = comment
	s.EndTime = &now
	s.ElapsedSeconds = now.Sub(s.StartTime).Seconds()
	s.StartFormatted = s.StartTime.Format(TimestampFormat)
	s.EndFormatted = now.Format(TimestampFormat)
	return nil
}

// IsStopped reports whether the step has reached its terminal state.
func (s *ProcessingStep) IsStopped() bool {
	return s.State == StateStopped
}

// MarkFailed stops the step with StepStatusError (or StepStatusTimeout when
// the error classifies as a deadline expiry) using the error's message as
// the comment. A failure to transition is logged, not propagated, so that
// telemetry bookkeeping never masks the original error.
func (s *ProcessingStep) MarkFailed(err error) {
	status := StepStatusError
	if c, ok := exception.AsClassified(err); ok && c.Kind == exception.KindTimeout {
		status = StepStatusTimeout
	}
	if stopErr := s.Stop(status, exception.ExtractErrorMessage(err)); stopErr != nil {
		logger.Warnf("Could not stop ProcessingStep (ID: %s) after failure: %v", s.ID, stopErr)
	}
}
