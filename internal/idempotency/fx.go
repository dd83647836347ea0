package idempotency

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(provideStore),
	fx.Provide(NewMiddleware),
)

func provideStore(client *redis.Client) Store {
	if client == nil {
		return nil
	}
	return NewRedisStore(client)
}
