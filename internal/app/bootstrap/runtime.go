package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/internal/dedup"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildDeduper returns the inbound message-id store. Redis and Postgres catch
// duplicates across instances; memory is the single-process fallback.
func BuildDeduper(client *redis.Client, store *Storage, cfg *appconfig.Config) notify.InboundDeduper {
	ttl := cfg.InboundDedupTTL
	switch {
	case client != nil:
		return dedup.NewRedisStore(client, ttl)
	case store != nil && store.Pool != nil:
		return dedup.NewPostgresStore(store.Pool, ttl)
	default:
		return dedup.NewMemoryStore(ttl)
	}
}

// redisPinger adapts a Redis client to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
