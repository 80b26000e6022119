package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func ConnectRedis(ctx context.Context, addr, password string, db int, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to Redis: %w", err)
	}
	log.Info("Successfully connected to Redis", zap.String("addr", addr))
	return client, nil
}

func CloseRedis(client *redis.Client, log *zap.Logger) {
	if client != nil {
		client.Close()
		log.Info("Redis connection closed")
	}
}
