package pollclient

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/attendsync/internal/attendance"
)

const DefaultPollInterval = 3 * time.Second

var (
	ErrAlreadyCheckedIn = errors.New("already checked in for this session")
	ErrNoActiveSession  = errors.New("no active session")
)

type Logger interface {
	Printf(format string, args ...any)
}

type PollerOptions struct {
	Interval time.Duration
	Jitter   float64
	Logger   Logger
	// StateFile, when set, receives a copy of every snapshot so a restarted
	// poller can show the last known state before the first poll succeeds.
	StateFile string
	OnChange  func(attendance.Database)
	// OnStatus fires when the poller flips between online and offline. err is
	// the failure that took it offline.
	OnStatus func(online bool, err error)
	// CycleTimeout bounds each poll inside Run. Zero means no per-cycle bound.
	CycleTimeout time.Duration
	Now          func() time.Time
}

// Poller keeps a full-replacement copy of the server state and performs
// writes on behalf of a dashboard or CLI.
type Poller struct {
	client   RemoteClient
	interval time.Duration
	jitter   float64
	logger   Logger
	cache    *attendance.FileFallbackStore
	onChange func(attendance.Database)
	onStatus func(bool, error)
	timeout  time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	snapshot attendance.Database
	online   bool
	reported bool
	lastErr  error
}

func NewPoller(client RemoteClient, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Poller{
		client:   client,
		interval: interval,
		jitter:   ClampJitterRatio(opts.Jitter),
		logger:   opts.Logger,
		onChange: opts.OnChange,
		onStatus: opts.OnStatus,
		timeout:  opts.CycleTimeout,
		now:      now,
		snapshot: attendance.EmptyDatabase(),
	}
	if strings.TrimSpace(opts.StateFile) != "" {
		p.cache = attendance.NewFileFallbackStore(opts.StateFile)
		if db, ok, err := p.cache.Read(); err != nil {
			p.logf("ignoring cached snapshot: %v", err)
		} else if ok {
			p.snapshot = db
		}
	}
	return p
}

// SyncOnce fetches the full state and replaces the local snapshot. On
// failure the previous snapshot is kept and the poller reports offline.
func (p *Poller) SyncOnce(ctx context.Context) error {
	db, err := p.client.GetState(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		p.mu.Lock()
		changed := p.online || !p.reported
		p.online = false
		p.reported = true
		p.lastErr = err
		p.mu.Unlock()
		if changed {
			p.notifyStatus(false, err)
		}
		return err
	}
	p.replace(db)
	return nil
}

func (p *Poller) notifyStatus(online bool, err error) {
	if p.onStatus != nil {
		p.onStatus(online, err)
	}
}

// Run polls until ctx is cancelled. Poll errors are logged, not returned.
func (p *Poller) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(p.now().UnixNano()))
	for {
		p.cycle(ctx)
		timer := time.NewTimer(JitteredIntervalWithSample(p.interval, p.jitter, rng.Float64()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logf("poll failed: %v", err)
	}
}

func (p *Poller) Snapshot() attendance.Database {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Clone()
}

func (p *Poller) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Poller) CreateSession(ctx context.Context, name string) (attendance.SessionInfo, error) {
	if strings.TrimSpace(name) == "" {
		return attendance.SessionInfo{}, attendance.ErrInvalidInput
	}
	session := attendance.NewSessionInfo(name, p.now())
	if err := p.post(ctx, attendance.ActionSetSession, session); err != nil {
		return attendance.SessionInfo{}, err
	}
	return session, nil
}

func (p *Poller) EndSession(ctx context.Context) error {
	return p.post(ctx, attendance.ActionClearSession, nil)
}

// CheckIn registers a student against session. A duplicate already visible in
// the local snapshot is rejected without a round-trip; the server still
// suppresses duplicates that race past this check.
func (p *Poller) CheckIn(ctx context.Context, session attendance.SessionInfo, studentName, studentID string) (attendance.AttendanceRecord, error) {
	if session.ID == "" {
		return attendance.AttendanceRecord{}, ErrNoActiveSession
	}
	if strings.TrimSpace(studentName) == "" || strings.TrimSpace(studentID) == "" {
		return attendance.AttendanceRecord{}, attendance.ErrInvalidInput
	}
	if p.Snapshot().HasRecordFor(strings.TrimSpace(studentID), session.ID) {
		return attendance.AttendanceRecord{}, ErrAlreadyCheckedIn
	}
	record := attendance.NewRecord(session, studentName, studentID, p.now())
	if err := p.post(ctx, attendance.ActionAddRecord, record); err != nil {
		return attendance.AttendanceRecord{}, err
	}
	return record, nil
}

// CheckInActive checks in against the session currently in the snapshot.
func (p *Poller) CheckInActive(ctx context.Context, studentName, studentID string) (attendance.AttendanceRecord, error) {
	snapshot := p.Snapshot()
	if snapshot.ActiveSession == nil {
		return attendance.AttendanceRecord{}, ErrNoActiveSession
	}
	return p.CheckIn(ctx, *snapshot.ActiveSession, studentName, studentID)
}

func (p *Poller) DeleteRecord(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return attendance.ErrInvalidInput
	}
	return p.post(ctx, attendance.ActionDeleteRecord, id)
}

func (p *Poller) post(ctx context.Context, action attendance.ActionKind, payload any) error {
	db, err := p.client.Post(ctx, action, payload)
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return err
	}
	p.replace(db)
	return nil
}

func (p *Poller) replace(db attendance.Database) {
	db = db.Clone()
	p.mu.Lock()
	changed := !p.online
	p.snapshot = db
	p.online = true
	p.reported = true
	p.lastErr = nil
	p.mu.Unlock()
	if changed {
		p.notifyStatus(true, nil)
	}

	if p.cache != nil {
		if err := p.cache.Write(db); err != nil {
			p.logf("write cached snapshot: %v", err)
		}
	}
	if p.onChange != nil {
		p.onChange(db.Clone())
	}
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf("[attendsync-poll] "+format, args...)
	}
}

func ClampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// JitteredIntervalWithSample spreads base by up to ratio in either direction,
// using sample in [0,1] as the random draw.
func JitteredIntervalWithSample(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	ratio = ClampJitterRatio(ratio)
	if ratio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*ratio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
