package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisHost        = "localhost"
	defaultRedisPort        = 6379
	defaultRedisDialTimeout = 5 * time.Second
)

// RedisOption defines connection options for Redis.
type RedisOption struct {
	Host     string
	Port     int
	Password string
	DB       int
	Addr     string
}

// NewRedis creates a Redis client and verifies connectivity with a ping.
func NewRedis(ctx context.Context, option RedisOption) (*redis.Client, error) {
	addr := option.Addr
	if addr == "" {
		host := option.Host
		if host == "" {
			host = defaultRedisHost
		}

		port := option.Port
		if port == 0 {
			port = defaultRedisPort
		}

		addr = fmt.Sprintf("%s:%d", host, port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    option.Password,
		DB:          option.DB,
		DialTimeout: defaultRedisDialTimeout,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
