package export

import (
	"go.uber.org/fx"
)

// Module provides the parquet exporter and payload archiver to the Fx
// application.
var Module = fx.Options(
	fx.Provide(NewExporter),
	fx.Provide(NewPayloadArchiver),
)
