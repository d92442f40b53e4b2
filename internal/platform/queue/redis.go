package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/platform/config"
)

var RDB *redis.Client

// ConnectRedis dials the Redis used for job locks and the notification list.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	RDB = rdb
	log.Printf("INFO: Connected to Redis at %s", cfg.RedisAddr)
	return rdb, nil
}

// NeedsRedis reports whether cfg selects any Redis-backed component.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.LockBackend == config.LockBackendRedis || cfg.NotifyRedisList != ""
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		log.Println("INFO: Redis connection closed")
	}
}
