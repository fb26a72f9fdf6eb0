package pipeline

import (
	"go.uber.org/fx"
)

// Module provides the pipeline orchestrator to the Fx application.
var Module = fx.Options(
	fx.Provide(New),
)
