package storage

import (
	"github.com/go-redis/redis/v8"

	"sentinela-poi/internal/config"
)

// NewRedisClient builds the state store client. Connectivity is checked at
// run start, not here, so a Redis blip during boot does not kill the process.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
