package telemetry

import (
	"go.uber.org/fx"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/metrics"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/telemetry/archive"
)

// NewTelemetryService wires the Service with the registry sink and, when
// enabled, the local run archive.
func NewTelemetryService(cfg *config.Config, client *registry.Client, arch *archive.Archive, recorder metrics.Recorder) *Service {
	tc := cfg.Regsync.Telemetry
	sinks := []Sink{NewRegistrySink(client, tc.RunEntity, tc.StepEntity)}
	if arch != nil {
		sinks = append(sinks, arch)
	}
	return NewService(cfg.Regsync.Pipeline.RunName, sinks, recorder)
}

// Module provides the telemetry service to the Fx application.
var Module = fx.Options(
	archive.Module,
	fx.Provide(NewTelemetryService),
)
