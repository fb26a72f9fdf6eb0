package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/support/logger"
)

// Sink persists one run record and its step records.
type Sink interface {
	// WriteRun writes the run and all of its steps. The run may still be
	// RUNNING when a fatal abort flushes early.
	WriteRun(ctx context.Context, run *model.PipelineRun, steps []*model.ProcessingStep) error
}

// Telemetry entity column orders.
var (
	runColumns = []string{
		"id", "name", "state", "dateStarted", "dateEnded", "elapsedSeconds", "steps", "comments",
	}
	stepColumns = []string{
		"id", "run", "type", "name", "targetEntity", "status",
		"dateStarted", "dateEnded", "elapsedSeconds", "comment",
	}
)

// RegistrySink writes telemetry to the registry store as two entity
// imports.
type RegistrySink struct {
	client     *registry.Client
	runEntity  string
	stepEntity string
}

// NewRegistrySink creates a RegistrySink targeting the given entities.
func NewRegistrySink(client *registry.Client, runEntity, stepEntity string) *RegistrySink {
	return &RegistrySink{client: client, runEntity: runEntity, stepEntity: stepEntity}
}

// WriteRun imports the run record and its step records.
func (s *RegistrySink) WriteRun(ctx context.Context, run *model.PipelineRun, steps []*model.ProcessingStep) error {
	runRow := registry.Row{
		"id":             run.ID,
		"name":           run.Name,
		"state":          string(run.State),
		"dateStarted":    run.StartFormatted,
		"dateEnded":      run.EndFormatted,
		"elapsedSeconds": formatSeconds(run.ElapsedSeconds),
		"steps":          strings.Join(run.StepIDs, ","),
		"comments":       run.Comments,
	}
	if err := s.client.ImportRows(ctx, s.runEntity, runColumns, []registry.Row{runRow}); err != nil {
		return err
	}

	stepRows := make([]registry.Row, 0, len(steps))
	for _, step := range steps {
		stepRows = append(stepRows, registry.Row{
			"id":             step.ID,
			"run":            step.RunID,
			"type":           step.Type,
			"name":           step.Name,
			"targetEntity":   step.TargetEntity,
			"status":         step.Status.String(),
			"dateStarted":    step.StartFormatted,
			"dateEnded":      step.EndFormatted,
			"elapsedSeconds": formatSeconds(step.ElapsedSeconds),
			"comment":        step.Comment,
		})
	}
	if err := s.client.ImportRows(ctx, s.stepEntity, stepColumns, stepRows); err != nil {
		return err
	}
	logger.Debugf("Telemetry for run %s flushed to the registry (%d steps).", run.ID, len(steps))
	return nil
}

func formatSeconds(seconds float64) string {
	if seconds == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", seconds)
}
