// Package redisqueue implements the work queue on plain Redis data structures.
package redisqueue

import (
	"context"
	"time"

	"crosspost/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, addr, username, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    username,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while connecting to redis")
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
