package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/support/exception"
)

func TestPipelineRunLifecycle(t *testing.T) {
	run := NewPipelineRun("nightly-sync")
	assert.Equal(t, StateCreated, run.State)
	assert.NotEmpty(t, run.ID)

	require.NoError(t, run.Start())
	assert.Equal(t, StateRunning, run.State)

	require.NoError(t, run.Stop())
	assert.Equal(t, StateStopped, run.State)
	assert.True(t, run.IsStopped())
	assert.NotEmpty(t, run.StartFormatted)
	assert.NotEmpty(t, run.EndFormatted)
	assert.GreaterOrEqual(t, run.ElapsedSeconds, 0.0)
}

func TestPipelineRunRejectsInvalidTransitions(t *testing.T) {
	run := NewPipelineRun("nightly-sync")

	assert.Error(t, run.Stop(), "stopping a created run must fail")

	require.NoError(t, run.Start())
	assert.Error(t, run.Start(), "starting a running run must fail")

	require.NoError(t, run.Stop())
	assert.Error(t, run.Stop(), "stopping a stopped run must fail")
	assert.Error(t, run.Start(), "restarting a stopped run must fail")
}

func TestPipelineRunAppendComment(t *testing.T) {
	run := NewPipelineRun("nightly-sync")

	run.AppendComment("")
	assert.Empty(t, run.Comments)

	run.AppendComment("first")
	assert.Equal(t, "first", run.Comments)

	run.AppendComment("second")
	assert.Equal(t, "first; second", run.Comments)
}

func TestProcessingStepLifecycle(t *testing.T) {
	step := NewProcessingStep("run-1", "resolve", "identifier-resolution", "subject_mappings")
	assert.Equal(t, StateCreated, step.State)

	require.NoError(t, step.Start())
	require.NoError(t, step.Stop(StepStatusSuccess, "120 keys resolved"))

	assert.True(t, step.IsStopped())
	assert.Equal(t, StepStatusSuccess, step.Status)
	assert.Equal(t, "120 keys resolved", step.Comment)
	assert.Error(t, step.Stop(StepStatusError, "again"), "a stopped step is immutable")
}

func TestProcessingStepMarkFailed(t *testing.T) {
	step := NewProcessingStep("run-1", "traverse", "vendor-traversal", "variant_records")
	require.NoError(t, step.Start())

	step.MarkFailed(errors.New("connection refused"))

	assert.True(t, step.IsStopped())
	assert.Equal(t, StepStatusError, step.Status)
	assert.Contains(t, step.Comment, "connection refused")
}

func TestProcessingStepMarkFailedWithTimeout(t *testing.T) {
	step := NewProcessingStep("run-1", "traverse", "vendor-traversal", "variant_records")
	require.NoError(t, step.Start())

	step.MarkFailed(exception.NewClassified(exception.KindTimeout, "deadline exceeded"))

	assert.Equal(t, StepStatusTimeout, step.Status)
}

func TestLocalKeyAccession(t *testing.T) {
	key := LocalKey{FamilyID: "F001", SubjectID: "S01"}
	assert.Equal(t, "F001_S01", key.Accession())
	assert.Equal(t, "F001_S01", key.String())
}

func TestSubjectMappingStateIsMutuallyExclusive(t *testing.T) {
	mapping := &SubjectMapping{Key: LocalKey{FamilyID: "F001", SubjectID: "S01"}}
	assert.False(t, mapping.Resolved())

	mapping.MarkFailed(exception.NewClassified(exception.KindEmptyResponse, "nothing returned"))
	assert.True(t, mapping.HasError)
	assert.Empty(t, mapping.InterpID)
	assert.False(t, mapping.Resolved())

	mapping.MarkResolved("4711")
	assert.True(t, mapping.Resolved())
	assert.False(t, mapping.HasError)
	assert.Empty(t, mapping.ErrorMessage)
	assert.Empty(t, string(mapping.ErrorKind))
}
