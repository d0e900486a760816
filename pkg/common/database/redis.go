package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carescore/platform/pkg/common/config"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisErr    error
	redisOnce   sync.Once
)

// GetRedis returns the shared client, failing when the server cannot be
// reached at startup. Session state lives here, so the gateway does not start
// without it.
func GetRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	redisOnce.Do(func() {
		addr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
		redisClient = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisErr = fmt.Errorf("connecting to redis at %s: %w", addr, err)
			return
		}
		logger.Log.WithField("addr", addr).Info("Connected to Redis")
	})

	return redisClient, redisErr
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
