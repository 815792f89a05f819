package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisDurableStore stores each key as a JSON string value.
type RedisDurableStore struct {
	client *redis.Client
}

func NewRedisDurableStore(dsn string) (*RedisDurableStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &RedisDurableStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisDurableStore) Kind() string {
	return "redis"
}

func (s *RedisDurableStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (s *RedisDurableStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return s.client.Set(ctx, key, []byte(value), 0).Err()
}

func (s *RedisDurableStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
