package receipt

import (
	"github.com/smallbiznis/agencyledger/internal/receipt/repository"
	"github.com/smallbiznis/agencyledger/internal/receipt/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receipt.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
