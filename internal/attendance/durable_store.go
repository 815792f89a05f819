package attendance

import (
	"context"
	"encoding/json"
	"sync"
)

// DurableStore is a key-value accessor over the two top-level keys. Get reports
// ok=false when the key has never been written. There is no transaction across keys.
type DurableStore interface {
	Get(ctx context.Context, key string) (value json.RawMessage, ok bool, err error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Kind() string
}

type durableStoreCloser interface {
	Close() error
}

type InMemoryDurableStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func NewInMemoryDurableStore() *InMemoryDurableStore {
	return &InMemoryDurableStore{values: map[string]json.RawMessage{}}
}

func (s *InMemoryDurableStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), value...), true, nil
}

func (s *InMemoryDurableStore) Set(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (s *InMemoryDurableStore) Kind() string {
	return "memory"
}

// isNullValue treats a stored JSON null the same as an absent key.
func isNullValue(value json.RawMessage) bool {
	trimmed := string(value)
	return len(value) == 0 || trimmed == "null"
}
