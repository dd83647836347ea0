package appointment

import (
	"github.com/smallbiznis/agencyledger/internal/appointment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("appointment.registry",
	fx.Provide(repository.Provide),
)
