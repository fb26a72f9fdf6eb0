package tracing

import (
	"go.uber.org/fx"
)

// Module provides the tracer to the Fx application.
var Module = fx.Options(
	fx.Provide(NewTracer),
)
