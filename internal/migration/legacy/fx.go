package legacy

import "go.uber.org/fx"

var Module = fx.Module("legacy.importer",
	fx.Provide(NewImporter),
)
