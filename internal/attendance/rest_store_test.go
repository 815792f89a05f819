package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeKVServer speaks the /get and /set REST dialect.
type fakeKVServer struct {
	mu     sync.Mutex
	values map[string]string
	auth   []string
}

func (f *fakeKVServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/get/"):
		key := strings.TrimPrefix(r.URL.Path, "/get/")
		value, ok := f.values[key]
		if !ok {
			_, _ = w.Write([]byte(`{"result":null}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": value})
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/set/"):
		body, _ := io.ReadAll(r.Body)
		f.values[strings.TrimPrefix(r.URL.Path, "/set/")] = string(body)
		_, _ = w.Write([]byte(`{"result":"OK"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}
}

func TestRESTDurableStoreRoundTrip(t *testing.T) {
	fake := &fakeKVServer{values: map[string]string{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	store, err := NewRESTDurableStore(RESTStoreOptions{BaseURL: server.URL + "/", Token: "kv_token", HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	ctx := context.Background()
	if _, ok, err := store.Get(ctx, KeyRecords); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, KeyRecords, json.RawMessage(`[{"id":"r1"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, ok, err := store.Get(ctx, KeyRecords)
	if err != nil || !ok || string(raw) != `[{"id":"r1"}]` {
		t.Fatalf("get: raw=%s ok=%v err=%v", raw, ok, err)
	}
	for _, header := range fake.auth {
		if header != "Bearer kv_token" {
			t.Fatalf("expected bearer auth on every call, got %q", header)
		}
	}
}

func TestRESTDurableStoreRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"try again"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"null"}`))
	}))
	defer server.Close()

	store, err := NewRESTDurableStore(RESTStoreOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	raw, ok, err := store.Get(context.Background(), KeyActiveSession)
	if err != nil || !ok || string(raw) != "null" {
		t.Fatalf("expected stored null after retry, raw=%s ok=%v err=%v", raw, ok, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRESTDurableStoreSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"WRONGPASS invalid token"}`))
	}))
	defer server.Close()

	store, err := NewRESTDurableStore(RESTStoreOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	err = store.Set(context.Background(), KeyRecords, json.RawMessage(`[]`))
	var storeErr *RESTStoreError
	if !errors.As(err, &storeErr) || storeErr.StatusCode != http.StatusUnauthorized || !strings.Contains(storeErr.Message, "WRONGPASS") {
		t.Fatalf("expected RESTStoreError 401, got %v", err)
	}
}

func TestNewRESTDurableStoreRequiresURL(t *testing.T) {
	if _, err := NewRESTDurableStore(RESTStoreOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRESTDurableStoreNonJSONValueIsCorrupt(t *testing.T) {
	fake := &fakeKVServer{values: map[string]string{KeyRecords: "not json at all"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	store, err := NewRESTDurableStore(RESTStoreOptions{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("new rest store: %v", err)
	}
	if _, _, err := store.Get(context.Background(), KeyRecords); !errors.Is(err, ErrDurableCorrupt) {
		t.Fatalf("expected ErrDurableCorrupt, got %v", err)
	}
}
