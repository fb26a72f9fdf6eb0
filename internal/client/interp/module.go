package interp

import (
	"go.uber.org/fx"
)

// Module provides the interpretation service client to the Fx application.
var Module = fx.Options(
	fx.Provide(NewClient),
)
