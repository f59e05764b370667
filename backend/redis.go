package backend

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSettings struct {
	Addr     string
	Password string
	Db       int
	// cached documents expire after this
	CacheTtl     time.Duration
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultRedisSettings() *RedisSettings {
	return &RedisSettings{
		Addr:         "localhost:6379",
		CacheTtl:     time.Hour,
		KeyPrefix:    "social",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

func NewRedisClient(ctx context.Context, settings *RedisSettings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         settings.Addr,
		Password:     settings.Password,
		DB:           settings.Db,
		DialTimeout:  settings.DialTimeout,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
