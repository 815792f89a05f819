package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Source string

const (
	SourceDurable Source = "durable"
	SourceLocal   Source = "local"
	SourceDefault Source = "default"
)

type Logger interface {
	Printf(format string, args ...any)
}

type CoordinatorOptions struct {
	// Durable is nil in local-only mode.
	Durable  DurableStore
	Fallback *FileFallbackStore
	Timeout  time.Duration
	Logger   Logger
	Metrics  *Metrics
}

// Coordinator is the only writer of the persisted Database. It prefers the
// durable store and hands off to the local fallback file when that store fails
// or does not answer within the timeout.
type Coordinator struct {
	durable  DurableStore
	fallback *FileFallbackStore
	timeout  time.Duration
	logger   Logger
	metrics  *Metrics

	statusMu         sync.Mutex
	lastSource       Source
	lastDurableErr   string
	lastDurableErrAt time.Time
}

type LoadResult struct {
	Database Database
	Source   Source
}

type BackendStatus struct {
	Mode               string `json:"mode"`
	DurableStore       string `json:"durableStore,omitempty"`
	FallbackPath       string `json:"fallbackPath"`
	TimeoutMillis      int64  `json:"timeoutMs"`
	LastSource         Source `json:"lastSource,omitempty"`
	LastDurableError   string `json:"lastDurableError,omitempty"`
	LastDurableErrorAt string `json:"lastDurableErrorAt,omitempty"`
}

// attempt is one backend's answer in the fallback chain.
type attempt struct {
	db     Database
	source Source
	err    error
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewFileFallbackStore("")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Coordinator{
		durable:  opts.Durable,
		fallback: fallback,
		timeout:  timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

func (c *Coordinator) DurableConfigured() bool {
	return c.durable != nil
}

func (c *Coordinator) Load(ctx context.Context) (LoadResult, error) {
	if c.durable == nil {
		local := c.loadLocal()
		if local.err != nil {
			c.logf("[attendsync] local read failed: %v", local.err)
			return LoadResult{}, local.err
		}
		return c.finishLoad(local), nil
	}

	remote := c.loadDurable(ctx)
	if remote.err == nil {
		return c.finishLoad(remote), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return LoadResult{}, ctxErr
	}
	c.recordDurableError(remote.err)
	// Undecodable durable data must never be replaced by the local file.
	if errors.Is(remote.err, ErrDurableCorrupt) {
		c.logf("[attendsync] durable data unreadable, refusing to fall back: %v", remote.err)
		return LoadResult{}, fmt.Errorf("%w: %w", ErrReliabilityFailure, remote.err)
	}
	c.logf("[attendsync] durable load failed, reading local fallback: %v", remote.err)
	c.metrics.observeFallback("load")

	local := c.loadLocal()
	if local.err != nil {
		c.logf("[attendsync] local fallback read failed: %v", local.err)
		return LoadResult{}, fmt.Errorf("%w: %w", ErrReliabilityFailure, errors.Join(remote.err, local.err))
	}
	return c.finishLoad(local), nil
}

func (c *Coordinator) Save(ctx context.Context, db Database) error {
	db = db.normalized()
	if c.durable == nil {
		err := c.fallback.Write(db)
		c.metrics.observeStore("local", "save", err)
		if err != nil {
			c.logf("[attendsync] local save failed: %v", err)
		}
		return err
	}

	_, err := withTimeout(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.writeDurable(ctx, db)
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	c.metrics.observeStore(c.durable.Kind(), "save", err)
	if err == nil {
		return nil
	}
	c.recordDurableError(err)
	c.logf("[attendsync] durable save failed, writing local fallback: %v", err)
	c.metrics.observeFallback("save")

	localErr := c.fallback.Write(db)
	c.metrics.observeStore("local", "save", localErr)
	if localErr != nil {
		return fmt.Errorf("save failed on both stores: %w", errors.Join(err, localErr))
	}
	return nil
}

// CheckDurable reads the records key straight from the durable store.
func (c *Coordinator) CheckDurable(ctx context.Context) (json.RawMessage, error) {
	if c.durable == nil {
		return nil, ErrDurableNotConfigured
	}
	raw, err := withTimeout(ctx, c.timeout, func(ctx context.Context) (json.RawMessage, error) {
		value, _, err := c.durable.Get(ctx, KeyRecords)
		return value, err
	})
	c.metrics.observeStore(c.durable.Kind(), "check", err)
	if err != nil {
		c.recordDurableError(err)
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return raw, nil
}

func (c *Coordinator) Status() BackendStatus {
	status := BackendStatus{
		Mode:          "local",
		FallbackPath:  c.fallback.Path,
		TimeoutMillis: c.timeout.Milliseconds(),
	}
	if c.durable != nil {
		status.Mode = "durable"
		status.DurableStore = c.durable.Kind()
	}
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	status.LastSource = c.lastSource
	status.LastDurableError = c.lastDurableErr
	if !c.lastDurableErrAt.IsZero() {
		status.LastDurableErrorAt = c.lastDurableErrAt.Format(time.RFC3339)
	}
	return status
}

func (c *Coordinator) Close() error {
	if closer, ok := c.durable.(durableStoreCloser); ok {
		return closer.Close()
	}
	return nil
}

func (c *Coordinator) loadDurable(ctx context.Context) attempt {
	db, err := withTimeout(ctx, c.timeout, c.readDurable)
	if err != nil && ctx.Err() != nil {
		return attempt{err: ctx.Err()}
	}
	c.metrics.observeStore(c.durable.Kind(), "load", err)
	if err != nil {
		return attempt{err: err}
	}
	return attempt{db: db, source: SourceDurable}
}

func (c *Coordinator) loadLocal() attempt {
	db, ok, err := c.fallback.Read()
	c.metrics.observeStore("local", "load", err)
	if err != nil {
		return attempt{err: err}
	}
	if !ok {
		return attempt{db: EmptyDatabase(), source: SourceDefault}
	}
	return attempt{db: db, source: SourceLocal}
}

// readDurable fetches both keys concurrently and substitutes defaults for missing ones.
func (c *Coordinator) readDurable(ctx context.Context) (Database, error) {
	var sessionRaw, recordsRaw json.RawMessage
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		value, _, err := c.durable.Get(groupCtx, KeyActiveSession)
		sessionRaw = value
		return err
	})
	group.Go(func() error {
		value, _, err := c.durable.Get(groupCtx, KeyRecords)
		recordsRaw = value
		return err
	})
	if err := group.Wait(); err != nil {
		return Database{}, err
	}

	db := EmptyDatabase()
	if !isNullValue(sessionRaw) {
		var session SessionInfo
		if err := json.Unmarshal(sessionRaw, &session); err != nil {
			return Database{}, fmt.Errorf("%w: %s: %v", ErrDurableCorrupt, KeyActiveSession, err)
		}
		db.ActiveSession = &session
	}
	if !isNullValue(recordsRaw) {
		if err := json.Unmarshal(recordsRaw, &db.Records); err != nil {
			return Database{}, fmt.Errorf("%w: %s: %v", ErrDurableCorrupt, KeyRecords, err)
		}
	}
	return db.normalized(), nil
}

func (c *Coordinator) writeDurable(ctx context.Context, db Database) error {
	sessionRaw, err := json.Marshal(db.ActiveSession)
	if err != nil {
		return err
	}
	recordsRaw, err := json.Marshal(db.Records)
	if err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.durable.Set(groupCtx, KeyActiveSession, sessionRaw)
	})
	group.Go(func() error {
		return c.durable.Set(groupCtx, KeyRecords, recordsRaw)
	})
	return group.Wait()
}

func (c *Coordinator) finishLoad(res attempt) LoadResult {
	c.statusMu.Lock()
	c.lastSource = res.source
	c.statusMu.Unlock()
	return LoadResult{Database: res.db.normalized(), Source: res.source}
}

func (c *Coordinator) recordDurableError(err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.lastDurableErr = err.Error()
	c.lastDurableErrAt = time.Now().UTC()
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
