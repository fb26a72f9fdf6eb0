package storage

import (
	"go.uber.org/fx"
)

// Module provides the storage connection resolver to the Fx application.
var Module = fx.Options(
	fx.Provide(NewResolver),
)
