package telemetry

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/registry"
)

// capturedImport is one multipart import received by the fake registry.
type capturedImport struct {
	entity  string
	records [][]string
}

func captureRegistry(t *testing.T, captured *[]capturedImport) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/import", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		records, err := csv.NewReader(file).ReadAll()
		require.NoError(t, err)
		*captured = append(*captured, capturedImport{entity: r.FormValue("entity"), records: records})
	}))
}

func TestRegistrySinkRendersRunAndSteps(t *testing.T) {
	var captured []capturedImport
	server := captureRegistry(t, &captured)
	defer server.Close()

	cfg := config.NewConfig()
	cfg.Regsync.Registry.BaseURL = server.URL
	client, err := registry.NewClient(cfg)
	require.NoError(t, err)
	sink := NewRegistrySink(client, "regsync_runs", "regsync_steps")

	run := model.NewPipelineRun("nightly-sync")
	require.NoError(t, run.Start())
	var steps []*model.ProcessingStep
	for _, name := range []string{"resolve", "write"} {
		step := model.NewProcessingStep(run.ID, name, name, "subject_mappings")
		require.NoError(t, step.Start())
		require.NoError(t, step.Stop(model.StepStatusSuccess, ""))
		run.AddStep(step.ID)
		steps = append(steps, step)
	}
	require.NoError(t, run.Stop())

	require.NoError(t, sink.WriteRun(context.Background(), run, steps))

	require.Len(t, captured, 2)
	assert.Equal(t, "regsync_runs", captured[0].entity)
	assert.Equal(t, "regsync_steps", captured[1].entity)

	runRecords := captured[0].records
	require.Len(t, runRecords, 2)
	assert.Equal(t, runColumns, runRecords[0])
	row := runRecords[1]
	assert.Equal(t, run.ID, row[0])
	assert.Equal(t, "nightly-sync", row[1])
	// The steps column is the run's step ids comma-joined in call order.
	assert.Equal(t, steps[0].ID+","+steps[1].ID, row[6])

	stepRecords := captured[1].records
	require.Len(t, stepRecords, 3)
	assert.Equal(t, stepColumns, stepRecords[0])
	assert.Equal(t, steps[0].ID, stepRecords[1][0])
	assert.Equal(t, run.ID, stepRecords[1][1])
}
