package storage

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis-backed store.
type RedisOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// RedisStore keeps client state in redis. Intended for deployments where
// several clients (tabs, devices) share one state record set.
type RedisStore struct {
	inner *redis.Client
}

// OpenRedis creates the redis client and verifies connectivity.
func OpenRedis(opts RedisOptions) (*RedisStore, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{inner: client}, nil
}

func (s *RedisStore) Get(key string) ([]byte, error) {
	val, err := s.inner.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Put(key string, value []byte) error {
	if err := s.inner.Set(context.Background(), key, value, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(key string) error {
	if err := s.inner.Del(context.Background(), key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.inner.Close()
}
