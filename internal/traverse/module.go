package traverse

import (
	"go.uber.org/fx"
)

// Module provides the traversal engine to the Fx application.
var Module = fx.Options(
	fx.Provide(New),
)
