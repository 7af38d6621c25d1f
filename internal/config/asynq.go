package config

import (
	"strings"

	"github.com/hibiken/asynq"
)

// AsynqRedisOpt builds the broker connection options from the same REDIS_URL
// the rate limiter uses. URL-form values (redis:// or rediss://, like
// Upstash) are parsed; anything else is treated as host:port.
func AsynqRedisOpt(cfg *Config) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(cfg.RedisURL, "redis://") || strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return asynq.ParseRedisURI(cfg.RedisURL)
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
