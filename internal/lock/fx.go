package lock

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/checkout/internal/config"
	"go.uber.org/fx"
)

// newRedisClient returns nil when no redis address is configured; the Locker
// degrades to always-acquire in that case.
func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("lock",
	fx.Provide(
		newRedisClient,
		NewLocker,
	),
)
