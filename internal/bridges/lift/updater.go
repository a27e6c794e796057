package lift

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-lift/internal/infrastructure/metrics"
)

const (
	// DefaultErrorPause is how long the update loop waits after a read error.
	DefaultErrorPause = time.Second

	// listenerQueueSize bounds the changes buffered per listener while Run is
	// active. A change that finds the queue full is dropped and counted.
	listenerQueueSize = 100
)

// StateChange describes one merged status line.
type StateChange struct {
	// LiftID identifies the lift the change belongs to.
	LiftID string

	// State is the full record immediately after the merge.
	State State

	// Keys lists the keys the line changed, in record order.
	Keys []string

	// Timestamp is when the merge happened (UTC).
	Timestamp time.Time
}

// StateListener receives every merged update.
//
// While Run is active each listener is served by its own goroutine from a
// bounded queue, in merge order, so a slow listener never stalls the serial
// read. Outside Run (HandleLine called directly) listeners run inline.
type StateListener interface {
	OnStateChange(ctx context.Context, change StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(ctx context.Context, change StateChange)

// OnStateChange calls f.
func (f StateListenerFunc) OnStateChange(ctx context.Context, change StateChange) {
	f(ctx, change)
}

// UpdaterConfig configures an Updater.
type UpdaterConfig struct {
	// LiftID labels log entries, metrics and state changes.
	LiftID string

	// ErrorPause is the wait after a read error. Default: 1 second.
	ErrorPause time.Duration
}

// UpdaterStats holds line handling counters.
type UpdaterStats struct {
	LinesTotal  uint64
	Merged      uint64
	Ignored     uint64
	Malformed   uint64
	Overlong    uint64
	KeysSkipped uint64
	ReadErrors  uint64
	Dropped     uint64
	Running     bool
}

// Updater is the background loop that feeds device lines into the Store.
//
// For each line it:
//   - ignores anything that is not brace-delimited, without logging
//   - logs and skips lines that fail to parse as a JSON object
//   - merges known keys into the Store and notifies listeners
//
// Read errors are logged, followed by a pause, and the loop carries on.
// Run returns only when its context is cancelled.
type Updater struct {
	lines *LineAssembler
	store *Store
	cfg   UpdaterConfig

	// listenersMu also guards dispatch, which is non-nil only while Run is
	// active.
	listeners   []StateListener
	dispatch    *dispatcher
	listenersMu sync.RWMutex

	running      atomic.Bool
	lastOverlong uint64

	linesTotal  atomic.Uint64
	merged      atomic.Uint64
	ignored     atomic.Uint64
	malformed   atomic.Uint64
	overlong    atomic.Uint64
	keysSkipped atomic.Uint64
	readErrors  atomic.Uint64
	dropped     atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewUpdater creates an Updater. Call Run to start it.
func NewUpdater(lines *LineAssembler, store *Store, cfg UpdaterConfig) *Updater {
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = DefaultErrorPause
	}
	return &Updater{
		lines: lines,
		store: store,
		cfg:   cfg,
	}
}

// AddListener registers l for every subsequent merge.
func (u *Updater) AddListener(l StateListener) {
	u.listenersMu.Lock()
	defer u.listenersMu.Unlock()
	u.listeners = append(u.listeners, l)
	if u.dispatch != nil {
		u.dispatch.add(l)
	}
}

// SetLogger sets the logger for the updater.
func (u *Updater) SetLogger(logger Logger) {
	u.loggerMu.Lock()
	u.logger = logger
	u.loggerMu.Unlock()
}

// Run reads lines until ctx is cancelled. It always returns nil.
func (u *Updater) Run(ctx context.Context) error {
	u.running.Store(true)
	defer u.running.Store(false)

	u.startDispatch(ctx)
	defer u.stopDispatch()

	u.logInfo("update loop started", "lift_id", u.cfg.LiftID)
	defer u.logInfo("update loop stopped", "lift_id", u.cfg.LiftID)

	for {
		line, err := u.lines.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.readErrors.Add(1)
			metrics.RecordReadError(u.cfg.LiftID)
			u.logError("serial read error", err)
			if sleepCtx(ctx, u.cfg.ErrorPause) != nil {
				return nil
			}
			continue
		}

		u.countOverlong()
		u.HandleLine(ctx, line)
	}
}

// HandleLine processes one assembled line.
func (u *Updater) HandleLine(ctx context.Context, line string) {
	u.linesTotal.Add(1)

	if !IsCandidate(line) {
		u.ignored.Add(1)
		metrics.RecordLine(u.cfg.LiftID, metrics.LineIgnored)
		return
	}

	update, skipped, err := DecodeUpdate(line)
	if err != nil {
		u.malformed.Add(1)
		metrics.RecordLine(u.cfg.LiftID, metrics.LineMalformed)
		u.logWarn("invalid JSON from lift controller", "line", line, "error", err)
		return
	}

	for _, ke := range skipped {
		u.keysSkipped.Add(1)
		metrics.RecordKeySkipped(u.cfg.LiftID, ke.Key)
		u.logDebug("skipping key with unusable value", "key", ke.Key, "error", ke.Err)
	}

	u.merged.Add(1)
	metrics.RecordLine(u.cfg.LiftID, metrics.LineMerged)

	if update.Empty() {
		return
	}

	state := u.store.Merge(update)
	u.notify(ctx, StateChange{
		LiftID:    u.cfg.LiftID,
		State:     state,
		Keys:      update.Keys(),
		Timestamp: time.Now().UTC(),
	})
}

// Stats returns the updater counters.
func (u *Updater) Stats() UpdaterStats {
	return UpdaterStats{
		LinesTotal:  u.linesTotal.Load(),
		Merged:      u.merged.Load(),
		Ignored:     u.ignored.Load(),
		Malformed:   u.malformed.Load(),
		Overlong:    u.overlong.Load(),
		KeysSkipped: u.keysSkipped.Load(),
		ReadErrors:  u.readErrors.Load(),
		Dropped:     u.dropped.Load(),
		Running:     u.running.Load(),
	}
}

// countOverlong folds lines dropped by the assembler into the counters.
func (u *Updater) countOverlong() {
	current := u.lines.Overlong()
	for ; u.lastOverlong < current; u.lastOverlong++ {
		u.overlong.Add(1)
		metrics.RecordLine(u.cfg.LiftID, metrics.LineOverlong)
	}
}

func (u *Updater) notify(ctx context.Context, change StateChange) {
	u.listenersMu.RLock()
	if u.dispatch == nil {
		listeners := u.listeners
		u.listenersMu.RUnlock()
		for _, l := range listeners {
			u.deliver(ctx, l, change)
		}
		return
	}
	defer u.listenersMu.RUnlock()

	for _, q := range u.dispatch.queues {
		select {
		case q.changes <- change:
		default:
			u.dropped.Add(1)
			metrics.RecordChangeDropped(u.cfg.LiftID)
			u.logWarn("listener queue full, dropping state change", "listener", fmt.Sprintf("%T", q.listener))
		}
	}
}

// deliver calls l, turning a panic into a log entry.
func (u *Updater) deliver(ctx context.Context, l StateListener, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			u.logError("state listener panic", fmt.Errorf("%v", r))
		}
	}()
	l.OnStateChange(ctx, change)
}

// dispatcher owns one queue and worker per listener for the life of Run.
type dispatcher struct {
	u      *Updater
	ctx    context.Context
	queues []*listenerQueue
	wg     sync.WaitGroup
}

type listenerQueue struct {
	listener StateListener
	changes  chan StateChange
}

// startDispatch starts a worker per registered listener. Workers outlive
// ctx long enough to drain their queues, so they deliver with a context
// that is not cancelled on shutdown.
func (u *Updater) startDispatch(ctx context.Context) {
	d := &dispatcher{u: u, ctx: context.WithoutCancel(ctx)}

	u.listenersMu.Lock()
	for _, l := range u.listeners {
		d.add(l)
	}
	u.dispatch = d
	u.listenersMu.Unlock()
}

// stopDispatch closes the queues and waits for the workers to drain them.
func (u *Updater) stopDispatch() {
	u.listenersMu.Lock()
	d := u.dispatch
	u.dispatch = nil
	if d != nil {
		for _, q := range d.queues {
			close(q.changes)
		}
	}
	u.listenersMu.Unlock()

	if d != nil {
		d.wg.Wait()
	}
}

// add must be called with listenersMu held.
func (d *dispatcher) add(l StateListener) {
	q := &listenerQueue{listener: l, changes: make(chan StateChange, listenerQueueSize)}
	d.queues = append(d.queues, q)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for change := range q.changes {
			d.u.deliver(d.ctx, q.listener, change)
		}
	}()
}

func (u *Updater) getLogger() Logger {
	u.loggerMu.RLock()
	defer u.loggerMu.RUnlock()
	return u.logger
}

func (u *Updater) logInfo(msg string, keysAndValues ...any) {
	if logger := u.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (u *Updater) logWarn(msg string, keysAndValues ...any) {
	if logger := u.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (u *Updater) logDebug(msg string, keysAndValues ...any) {
	if logger := u.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs err, unwrapping the channel-closed case to debug since it
// only happens during shutdown.
func (u *Updater) logError(msg string, err error) {
	logger := u.getLogger()
	if logger == nil {
		return
	}
	if errors.Is(err, ErrChannelClosed) {
		logger.Debug(msg, "error", err)
		return
	}
	logger.Error(msg, "error", err)
}
