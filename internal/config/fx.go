package config

import (
	"github.com/smallbiznis/agencyledger/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(
		Load,
		func(cfg Config) db.Config { return cfg.Database() },
		NewSettingsHolder,
		func(h *SettingsHolder) SettingsProvider { return h },
	),
)
