package metrics

import (
	"go.uber.org/fx"
)

// Module provides the metric recorder to the Fx application.
var Module = fx.Options(
	fx.Provide(func() Recorder { return NewPrometheusRecorder() }),
)
