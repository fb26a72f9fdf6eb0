package registry

import (
	"go.uber.org/fx"
)

// Module provides the registry store client to the Fx application.
var Module = fx.Options(
	fx.Provide(NewClient),
)
