package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisDialTimeout = 5 * time.Second

// RedisOptions configure the connection shared by the match store and the snapshot fanout.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type RedisStorage struct {
	Connection *redis.Client
}

// NewRedisStorage connects and pings once. The ping is bounded by DialTimeout even when ctx has no deadline.
func NewRedisStorage(ctx context.Context, options RedisOptions) (*RedisStorage, error) {
	dialTimeout := options.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultRedisDialTimeout
	}

	conn := redis.NewClient(&redis.Options{
		Addr:        options.Addr,
		Password:    options.Password,
		DB:          options.DB,
		DialTimeout: dialTimeout,
		// match updates run WATCH/MULTI, a dead connection must fail fast so the caller can retry
		ReadTimeout:  dialTimeout,
		WriteTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := conn.Ping(pingCtx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s db %d: %w", options.Addr, options.DB, err)
	}

	return &RedisStorage{Connection: conn}, nil
}

func (that *RedisStorage) Close() error {
	return that.Connection.Close()
}
