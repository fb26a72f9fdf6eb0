package resolver

import (
	"go.uber.org/fx"
)

// Module provides the identifier resolver to the Fx application.
var Module = fx.Options(
	fx.Provide(New),
)
