package customer

import (
	"github.com/smallbiznis/agencyledger/internal/customer/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.directory",
	fx.Provide(repository.Provide),
)
