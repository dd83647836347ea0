package numbering

import (
	"github.com/smallbiznis/agencyledger/internal/config"
	"github.com/smallbiznis/agencyledger/internal/numbering/repository"
	"github.com/smallbiznis/agencyledger/internal/numbering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("numbering.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) service.Config {
		return service.Config{Location: cfg.Location(), MaxAttempts: cfg.NumberingMaxAttempts}
	}),
	fx.Provide(service.NewService),
)
