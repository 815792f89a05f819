package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingDurableStore struct {
	err error
}

func (s failingDurableStore) Get(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, s.err
}

func (s failingDurableStore) Set(context.Context, string, json.RawMessage) error {
	return s.err
}

func (failingDurableStore) Kind() string { return "failing" }

// slowDurableStore delays every call until delay passes or the context is cancelled.
type slowDurableStore struct {
	*InMemoryDurableStore
	delay time.Duration
}

func (s slowDurableStore) wait(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s slowDurableStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := s.wait(ctx); err != nil {
		return nil, false, err
	}
	return s.InMemoryDurableStore.Get(ctx, key)
}

func (s slowDurableStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.InMemoryDurableStore.Set(ctx, key, value)
}

func (slowDurableStore) Kind() string { return "slow" }

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) contains(fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func sampleDatabase() Database {
	db := EmptyDatabase()
	db.ActiveSession = &SessionInfo{ID: "session_1", Name: "Math"}
	db.Records = []AttendanceRecord{sampleRecord("r1", "S1", "session_1")}
	return db
}

func TestCoordinatorDurableRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	durable := NewInMemoryDurableStore()
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  durable,
		Fallback: NewFileFallbackStore(path),
	})

	if err := coordinator.Save(context.Background(), sampleDatabase()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Source != SourceDurable {
		t.Fatalf("expected durable source, got %s", loaded.Source)
	}
	if loaded.Database.ActiveSession == nil || len(loaded.Database.Records) != 1 {
		t.Fatalf("unexpected database %+v", loaded.Database)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected fallback file untouched while durable store is healthy, stat err=%v", err)
	}
	raw, ok, _ := durable.Get(context.Background(), KeyRecords)
	if !ok || !strings.Contains(string(raw), `"studentId":"S1"`) {
		t.Fatalf("expected records key to hold the record list, got %s", raw)
	}
}

func TestCoordinatorDurableMissingKeysYieldDefaults(t *testing.T) {
	durable := NewInMemoryDurableStore()
	_ = durable.Set(context.Background(), KeyActiveSession, json.RawMessage("null"))
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  durable,
		Fallback: NewFileFallbackStore(filepath.Join(t.TempDir(), "db.json")),
	})
	loaded, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Database.ActiveSession != nil || loaded.Database.Records == nil || len(loaded.Database.Records) != 0 {
		t.Fatalf("expected empty defaults, got %+v", loaded.Database)
	}
}

func TestCoordinatorFallsBackToLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	fallback := NewFileFallbackStore(path)
	if err := fallback.Write(sampleDatabase()); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	logger := &captureLogger{}
	metrics := NewMetrics(prometheus.NewRegistry())
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  failingDurableStore{err: errors.New("connection refused")},
		Fallback: fallback,
		Logger:   logger,
		Metrics:  metrics,
	})

	loaded, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Source != SourceLocal || len(loaded.Database.Records) != 1 {
		t.Fatalf("expected local snapshot, got %s %+v", loaded.Source, loaded.Database)
	}
	if !logger.contains("durable load failed") {
		t.Fatalf("expected durable failure to be logged, got %v", logger.lines)
	}
	if got := testutil.ToFloat64(metrics.fallbacks.WithLabelValues("load")); got != 1 {
		t.Fatalf("expected one load fallback counted, got %v", got)
	}
	status := coordinator.Status()
	if status.Mode != "durable" || status.LastSource != SourceLocal || !strings.Contains(status.LastDurableError, "connection refused") {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCoordinatorFallbackMissingFileYieldsDefaults(t *testing.T) {
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  failingDurableStore{err: errors.New("down")},
		Fallback: NewFileFallbackStore(filepath.Join(t.TempDir(), "db.json")),
	})
	loaded, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Source != SourceDefault || loaded.Database.ActiveSession != nil || len(loaded.Database.Records) != 0 {
		t.Fatalf("expected defaults, got %s %+v", loaded.Source, loaded.Database)
	}
}

func TestCoordinatorCorruptFallbackIsReliabilityFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  failingDurableStore{err: errors.New("down")},
		Fallback: NewFileFallbackStore(path),
	})
	_, err := coordinator.Load(context.Background())
	if !errors.Is(err, ErrReliabilityFailure) {
		t.Fatalf("expected ErrReliabilityFailure, got %v", err)
	}
	if !errors.Is(err, ErrFallbackUnreadable) {
		t.Fatalf("expected the fallback cause to be preserved, got %v", err)
	}
}

func TestCoordinatorTimeoutCountsAsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	metrics := NewMetrics(prometheus.NewRegistry())
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  slowDurableStore{InMemoryDurableStore: NewInMemoryDurableStore(), delay: time.Second},
		Fallback: NewFileFallbackStore(path),
		Timeout:  20 * time.Millisecond,
		Metrics:  metrics,
	})

	start := time.Now()
	if err := coordinator.Save(context.Background(), sampleDatabase()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected save to give up on the slow store quickly, took %s", elapsed)
	}
	loaded, err := coordinator.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Source != SourceLocal || len(loaded.Database.Records) != 1 {
		t.Fatalf("expected fallback write to be visible, got %s %+v", loaded.Source, loaded.Database)
	}
	if got := testutil.ToFloat64(metrics.storeOperations.WithLabelValues("slow", "save", "timeout")); got != 1 {
		t.Fatalf("expected one save timeout counted, got %v", got)
	}
}

func TestCoordinatorSaveFailsWhenBothStoresFail(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  failingDurableStore{err: errors.New("down")},
		Fallback: NewFileFallbackStore(filepath.Join(blocker, "db.json")),
	})
	if err := coordinator.Save(context.Background(), sampleDatabase()); err == nil {
		t.Fatalf("expected save to fail when the fallback directory is a file")
	}
}

func TestCoordinatorLocalOnlyMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	coordinator := NewCoordinator(CoordinatorOptions{Fallback: NewFileFallbackStore(path)})
	if coordinator.DurableConfigured() {
		t.Fatalf("expected local-only coordinator")
	}

	loaded, err := coordinator.Load(context.Background())
	if err != nil || loaded.Source != SourceDefault {
		t.Fatalf("expected defaults from missing file, got %s err=%v", loaded.Source, err)
	}
	if err := coordinator.Save(context.Background(), sampleDatabase()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err = coordinator.Load(context.Background())
	if err != nil || loaded.Source != SourceLocal || len(loaded.Database.Records) != 1 {
		t.Fatalf("expected saved snapshot, got %s %+v err=%v", loaded.Source, loaded.Database, err)
	}
	if _, err := coordinator.CheckDurable(context.Background()); !errors.Is(err, ErrDurableNotConfigured) {
		t.Fatalf("expected ErrDurableNotConfigured, got %v", err)
	}
	if status := coordinator.Status(); status.Mode != "local" || status.DurableStore != "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCoordinatorLocalOnlyCorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte("[]]"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	coordinator := NewCoordinator(CoordinatorOptions{Fallback: NewFileFallbackStore(path)})
	if _, err := coordinator.Load(context.Background()); !errors.Is(err, ErrFallbackUnreadable) {
		t.Fatalf("expected ErrFallbackUnreadable, got %v", err)
	}
}

func TestCoordinatorCheckDurable(t *testing.T) {
	durable := NewInMemoryDurableStore()
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  durable,
		Fallback: NewFileFallbackStore(filepath.Join(t.TempDir(), "db.json")),
	})
	raw, err := coordinator.CheckDurable(context.Background())
	if err != nil || string(raw) != "null" {
		t.Fatalf("expected null for unwritten key, got %s err=%v", raw, err)
	}
	if err := coordinator.Save(context.Background(), sampleDatabase()); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err = coordinator.CheckDurable(context.Background())
	if err != nil || !strings.Contains(string(raw), `"id":"r1"`) {
		t.Fatalf("expected stored records, got %s err=%v", raw, err)
	}

	broken := NewCoordinator(CoordinatorOptions{Durable: failingDurableStore{err: errors.New("auth failed")}})
	if _, err := broken.CheckDurable(context.Background()); err == nil || !strings.Contains(err.Error(), "auth failed") {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestCoordinatorUndecodableDurableValueDoesNotFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	if err := NewFileFallbackStore(path).Write(sampleDatabase()); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	durable := NewInMemoryDurableStore()
	_ = durable.Set(context.Background(), KeyRecords, json.RawMessage(`[{"id":"r1","studentId":12345}]`))
	metrics := NewMetrics(prometheus.NewRegistry())
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  durable,
		Fallback: NewFileFallbackStore(path),
		Metrics:  metrics,
	})

	_, err := coordinator.Load(context.Background())
	if !errors.Is(err, ErrReliabilityFailure) || !errors.Is(err, ErrDurableCorrupt) {
		t.Fatalf("expected reliability failure wrapping ErrDurableCorrupt, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.fallbacks.WithLabelValues("load")); got != 0 {
		t.Fatalf("expected no fallback for undecodable durable data, got %v", got)
	}
}

func TestCoordinatorCancelledContextSkipsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	metrics := NewMetrics(prometheus.NewRegistry())
	coordinator := NewCoordinator(CoordinatorOptions{
		Durable:  slowDurableStore{InMemoryDurableStore: NewInMemoryDurableStore(), delay: time.Second},
		Fallback: NewFileFallbackStore(path),
		Metrics:  metrics,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := coordinator.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected load to report context.Canceled, got %v", err)
	}
	if err := coordinator.Save(ctx, sampleDatabase()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected save to report context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no fallback file for a cancelled request, stat err=%v", err)
	}
	if got := testutil.ToFloat64(metrics.fallbacks.WithLabelValues("save")); got != 0 {
		t.Fatalf("expected no save fallback counted, got %v", got)
	}
	if status := coordinator.Status(); status.LastDurableError != "" {
		t.Fatalf("expected cancellation not recorded as a durable error, got %q", status.LastDurableError)
	}
}
