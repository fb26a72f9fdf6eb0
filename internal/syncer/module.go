package syncer

import (
	"go.uber.org/fx"
)

// Module provides the change-detection upserter to the Fx application.
var Module = fx.Options(
	fx.Provide(NewUpserter),
)
