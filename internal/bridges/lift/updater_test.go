package lift

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// changeRecorder collects state changes.
type changeRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *changeRecorder) OnStateChange(_ context.Context, c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

func newTestUpdater(src ByteSource) (*Updater, *Store, *recordingLogger, *changeRecorder) {
	store := NewStore()
	u := NewUpdater(newTestAssembler(src, DefaultMaxLineLength), store, UpdaterConfig{
		LiftID:     "lift-test",
		ErrorPause: time.Millisecond,
	})
	logger := &recordingLogger{}
	u.SetLogger(logger)
	rec := &changeRecorder{}
	u.AddListener(rec)
	return u, store, logger, rec
}

func TestUpdater_HandleLine_Merges(t *testing.T) {
	u, store, logger, rec := newTestUpdater(newScriptedSource(""))

	u.HandleLine(context.Background(), `{"floor":3,"door":1,"speed":9}`)

	want := DefaultState()
	want.Floor = 3
	want.Door = 1
	if got := store.Snapshot(); got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}

	changes := rec.all()
	if len(changes) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(changes))
	}
	if changes[0].LiftID != "lift-test" || changes[0].State != want {
		t.Errorf("change = %+v", changes[0])
	}
	if len(changes[0].Keys) != 2 {
		t.Errorf("change keys = %v, want [floor door]", changes[0].Keys)
	}
	if logger.count("warn") != 0 || logger.count("error") != 0 {
		t.Errorf("unexpected diagnostics: %+v", logger.entries)
	}
	if s := u.Stats(); s.Merged != 1 || s.LinesTotal != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestUpdater_HandleLine_NonCandidateIsSilent(t *testing.T) {
	lines := []string{
		"",
		"Lift controller ready",
		`{"floor":1`,
		`"floor":1}`,
		`[{"floor":1}]`,
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			u, store, logger, rec := newTestUpdater(newScriptedSource(""))

			u.HandleLine(context.Background(), line)

			if store.Snapshot() != DefaultState() {
				t.Errorf("state changed: %+v", store.Snapshot())
			}
			if logger.len() != 0 {
				t.Errorf("expected no log entries, got %+v", logger.entries)
			}
			if len(rec.all()) != 0 {
				t.Error("listener called for ignored line")
			}
			if u.Stats().Ignored != 1 {
				t.Errorf("Ignored = %d, want 1", u.Stats().Ignored)
			}
		})
	}
}

func TestUpdater_HandleLine_MalformedIsLogged(t *testing.T) {
	u, store, logger, rec := newTestUpdater(newScriptedSource(""))

	u.HandleLine(context.Background(), `{"floor":2,}`)

	if store.Snapshot() != DefaultState() {
		t.Errorf("state changed: %+v", store.Snapshot())
	}
	if logger.count("warn") != 1 {
		t.Errorf("warn entries = %d, want 1", logger.count("warn"))
	}
	if len(rec.all()) != 0 {
		t.Error("listener called for malformed line")
	}
	if u.Stats().Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", u.Stats().Malformed)
	}
}

func TestUpdater_HandleLine_WrongTypeKeySkipped(t *testing.T) {
	u, store, logger, _ := newTestUpdater(newScriptedSource(""))

	u.HandleLine(context.Background(), `{"floor":"two","target":5}`)

	got := store.Snapshot()
	if got.Floor != 0 || got.Target != 5 {
		t.Errorf("state = %+v, want floor 0 target 5", got)
	}
	if logger.count("debug") != 1 {
		t.Errorf("debug entries = %d, want 1", logger.count("debug"))
	}
	if u.Stats().KeysSkipped != 1 {
		t.Errorf("KeysSkipped = %d, want 1", u.Stats().KeysSkipped)
	}
}

func TestUpdater_HandleLine_IntegralFloatsMerge(t *testing.T) {
	u, store, _, _ := newTestUpdater(newScriptedSource(""))

	u.HandleLine(context.Background(), `{"floor":2.0,"totalTrips":1e1,"door":1}`)

	got := store.Snapshot()
	if got.Floor != 2 || got.TotalTrips != 10 || got.Door != 1 {
		t.Errorf("state = %+v, want floor 2, totalTrips 10, door 1", got)
	}
	if s := u.Stats(); s.KeysSkipped != 0 {
		t.Errorf("KeysSkipped = %d, want 0", s.KeysSkipped)
	}
}

func TestUpdater_HandleLine_EmptyObjectNotifiesNobody(t *testing.T) {
	u, store, _, rec := newTestUpdater(newScriptedSource(""))

	u.HandleLine(context.Background(), `{"unknown":true}`)

	if store.Snapshot() != DefaultState() {
		t.Errorf("state changed: %+v", store.Snapshot())
	}
	if len(rec.all()) != 0 {
		t.Error("listener called for update with no known keys")
	}
}

func TestUpdater_Run_EndToEnd(t *testing.T) {
	src := newScriptedSource("{\"floor\":2,\"state\":\"Moving\"}\n")
	src.push(sourceEvent{}, sourceEvent{})
	src.pushString("noise\n{\"door\":1}\n")

	u, store, _, rec := newTestUpdater(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	eventually(t, func() bool { return len(rec.all()) == 2 }, "two merges")

	want := DefaultState()
	want.Floor = 2
	want.State = "Moving"
	want.Door = 1
	if got := store.Snapshot(); got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}
	if !u.Stats().Running {
		t.Error("Running = false while loop active")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if u.Stats().Running {
		t.Error("Running = true after loop exit")
	}
}

func TestUpdater_Run_ReadErrorPausesAndResumes(t *testing.T) {
	src := newScriptedSource("{\"floor\"")
	src.push(sourceEvent{err: errDeviceGone})
	src.pushString(":4}\n")

	u, store, logger, _ := newTestUpdater(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx) //nolint:errcheck // always nil

	eventually(t, func() bool { return store.Snapshot().Floor == 4 }, "floor merged after read error")

	if u.Stats().ReadErrors != 1 {
		t.Errorf("ReadErrors = %d, want 1", u.Stats().ReadErrors)
	}
	if logger.count("error") != 1 {
		t.Errorf("error entries = %d, want 1", logger.count("error"))
	}
}

func TestUpdater_Run_CountsOverlong(t *testing.T) {
	src := newScriptedSource("{\"floor\":1,\"padding\":\"xxxxxxxxxxxxxxxxxxxx\"}\n{\"floor\":9}\n")
	store := NewStore()
	u := NewUpdater(newTestAssembler(src, 16), store, UpdaterConfig{LiftID: "lift-test"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx) //nolint:errcheck // always nil

	eventually(t, func() bool { return store.Snapshot().Floor == 9 }, "short line merged")

	if u.Stats().Overlong != 1 {
		t.Errorf("Overlong = %d, want 1", u.Stats().Overlong)
	}
}

func TestUpdater_Run_ChannelClosedLogsAtDebug(t *testing.T) {
	src := &scriptedSource{}
	src.push(sourceEvent{err: ErrChannelClosed})
	u, _, logger, _ := newTestUpdater(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx) //nolint:errcheck // always nil

	eventually(t, func() bool { return u.Stats().ReadErrors == 1 }, "read error counted")

	if logger.count("error") != 0 {
		t.Error("closed channel logged at error level")
	}
}

func TestStateListenerFunc(t *testing.T) {
	var got StateChange
	l := StateListenerFunc(func(_ context.Context, c StateChange) { got = c })

	l.OnStateChange(context.Background(), StateChange{LiftID: "x"})

	if got.LiftID != "x" {
		t.Errorf("listener func not called")
	}
}

func TestUpdater_ThroughChannel(t *testing.T) {
	ch, port := openTestChannel(t)
	store := NewStore()
	u := NewUpdater(newTestAssembler(ch, DefaultMaxLineLength), store, UpdaterConfig{
		LiftID:     "lift-test",
		ErrorPause: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx) //nolint:errcheck // always nil

	port.feed("{\"floor\":2,\"state\":\"Moving\"}\r\n")
	eventually(t, func() bool { return store.Snapshot().State == "Moving" }, "first line merged")

	port.failNextRead(errDeviceGone)
	port.feed("{\"door\":1}\n")
	eventually(t, func() bool { return store.Snapshot().Door == 1 }, "second line merged")

	want := DefaultState()
	want.Floor = 2
	want.State = "Moving"
	want.Door = 1
	if got := store.Snapshot(); got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}
}

// gatedListener blocks every call until release is closed.
type gatedListener struct {
	release chan struct{}
	mu      sync.Mutex
	floors  []int
}

func newGatedListener() *gatedListener {
	return &gatedListener{release: make(chan struct{})}
}

func (g *gatedListener) OnStateChange(_ context.Context, c StateChange) {
	<-g.release
	g.mu.Lock()
	g.floors = append(g.floors, c.State.Floor)
	g.mu.Unlock()
}

func (g *gatedListener) seen() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.floors...)
}

func TestUpdater_Run_SlowListenerDoesNotStallReads(t *testing.T) {
	src := newScriptedSource("{\"floor\":1}\n{\"floor\":2}\n")
	u, store, _, rec := newTestUpdater(src)
	gated := newGatedListener()
	u.AddListener(gated)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	eventually(t, func() bool { return store.Snapshot().Floor == 2 }, "second line merged while listener blocked")
	eventually(t, func() bool { return len(rec.all()) == 2 }, "fast listener not held up by slow one")
	if got := gated.seen(); len(got) != 0 {
		t.Fatalf("gated listener ran before release: %v", got)
	}

	close(gated.release)
	eventually(t, func() bool { return len(gated.seen()) == 2 }, "gated listener caught up")
	if got := gated.seen(); got[0] != 1 || got[1] != 2 {
		t.Errorf("delivery order = %v, want [1 2]", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestUpdater_Run_DropsWhenQueueFull(t *testing.T) {
	const total = listenerQueueSize + 10

	var b strings.Builder
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&b, "{\"floor\":%d}\n", i)
	}
	store := NewStore()
	u := NewUpdater(newTestAssembler(newScriptedSource(b.String()), DefaultMaxLineLength), store, UpdaterConfig{LiftID: "lift-drop"})
	gated := newGatedListener()
	u.AddListener(gated)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	eventually(t, func() bool { return store.Snapshot().Floor == total }, "all lines merged")
	if u.Stats().Dropped == 0 {
		t.Fatal("Dropped = 0, want drops while listener blocked")
	}

	close(gated.release)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}

	// Run drains the queue before returning.
	delivered := uint64(len(gated.seen()))
	if delivered+u.Stats().Dropped != total {
		t.Errorf("delivered %d + dropped %d, want %d", delivered, u.Stats().Dropped, total)
	}
}

func TestUpdater_Run_ListenerPanicIsContained(t *testing.T) {
	src := newScriptedSource("{\"floor\":3}\n")
	u, store, logger, rec := newTestUpdater(src)
	u.AddListener(StateListenerFunc(func(context.Context, StateChange) { panic("boom") }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx) //nolint:errcheck // always nil

	eventually(t, func() bool { return len(rec.all()) == 1 }, "other listener notified")
	eventually(t, func() bool { return logger.count("error") == 1 }, "panic logged")
	if store.Snapshot().Floor != 3 {
		t.Errorf("floor = %d, want 3", store.Snapshot().Floor)
	}
}
