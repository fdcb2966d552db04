package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/config"
	"dialer-platform/internal/events"
)

type fakeCtrlCache struct {
	mu          sync.Mutex
	refreshErrs []error // popped per call; empty means success
	refreshes   int
	size        int
	clears      int
}

func (f *fakeCtrlCache) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		return err
	}
	return nil
}

func (f *fakeCtrlCache) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *fakeCtrlCache) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.size = 0
}

type fakeTrackerCtrl struct {
	mu     sync.Mutex
	active int
	clears int
}

func (f *fakeTrackerCtrl) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTrackerCtrl) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.active = 0
}

type fakePoolCtrl struct {
	mu     sync.Mutex
	inUse  int
	resets int
}

func (f *fakePoolCtrl) ResetAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	n := f.inUse
	f.inUse = 0
	return n
}

type fakeStrategy struct {
	mu    sync.Mutex
	name  string
	ticks int
	err   error
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) RunTick(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return f.err
}

func (f *fakeStrategy) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

type supervisorFixture struct {
	sup     *Supervisor
	cache   *fakeCtrlCache
	tracker *fakeTrackerCtrl
	pool    *fakePoolCtrl
	normal  *fakeStrategy
	emerg   *fakeStrategy
	sleeps  *[]time.Duration
	pingErr func() error
}

func newSupervisorFixture(t *testing.T, cfg config.DialerConfig) *supervisorFixture {
	t.Helper()
	cache := &fakeCtrlCache{}
	tracker := &fakeTrackerCtrl{}
	pool := &fakePoolCtrl{}
	normal := &fakeStrategy{name: "cache"}
	emerg := &fakeStrategy{name: "direct"}

	fix := &supervisorFixture{
		cache:   cache,
		tracker: tracker,
		pool:    pool,
		normal:  normal,
		emerg:   emerg,
		pingErr: func() error { return nil },
	}
	ping := func(ctx context.Context) error { return fix.pingErr() }

	sup := NewSupervisor(cfg, normal, emerg, cache, tracker, pool, events.NewBus(), ping, slog.Default())
	var sleeps []time.Duration
	sup.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }
	fix.sleeps = &sleeps
	fix.sup = sup
	return fix
}

// quietConfig keeps all timers out of the way so tests drive the
// supervisor directly.
func quietConfig() config.DialerConfig {
	return config.DialerConfig{
		TickInterval:          time.Hour,
		WatcherInterval:       time.Hour,
		ProbeInterval:         time.Hour,
		EmergencyTickInterval: time.Hour,
		StalenessWindow:       5 * time.Minute,
		RetryBudget:           5,
		BackoffBase:           10 * time.Second,
		BackoffCap:            30 * time.Second,
		MaxRetries:            3,
	}
}

func TestBackoffDelay_LinearAndCapped(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := fix.sup.backoffDelay(i + 1); got != w {
			t.Fatalf("backoffDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestStart_ExhaustedBudgetEntersEmergency(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	fix.pingErr = func() error { return errors.New("connection refused") }
	fix.cache.refreshErrs = []error{errors.New("connection refused")}

	ctx := context.Background()
	if err := fix.sup.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fix.sup.Stop()

	if got := fix.sup.State(); got != StateEmergency {
		t.Fatalf("state = %s, want emergency", got)
	}
	if got := fix.sup.RetryAttempts(); got != 5 {
		t.Fatalf("retry attempts = %d, want full budget 5", got)
	}

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	if len(*fix.sleeps) != len(want) {
		t.Fatalf("got %d restart delays, want %d: %v", len(*fix.sleeps), len(want), *fix.sleeps)
	}
	for i, w := range want {
		if (*fix.sleeps)[i] != w {
			t.Fatalf("restart delay %d = %v, want %v", i+1, (*fix.sleeps)[i], w)
		}
	}
}

func TestStart_RecoversWithinBudget(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())

	// Persistence comes back on the third probe.
	var pings int
	var mu sync.Mutex
	fix.pingErr = func() error {
		mu.Lock()
		defer mu.Unlock()
		pings++
		if pings <= 2 {
			return errors.New("connection refused")
		}
		return nil
	}
	fix.cache.refreshErrs = []error{errors.New("connection refused")}

	if err := fix.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fix.sup.Stop()

	if got := fix.sup.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
	if got := fix.sup.RetryAttempts(); got != 0 {
		t.Fatalf("retry attempts = %d, want reset to 0", got)
	}
	if got := len(*fix.sleeps); got != 3 {
		t.Fatalf("expected 3 restart delays, got %d", got)
	}
}

func TestForceTick_RoutesByState(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	ctx := context.Background()

	fix.sup.setState(StateRunning)
	if err := fix.sup.ForceTick(ctx); err != nil {
		t.Fatalf("force tick running: %v", err)
	}
	if fix.normal.tickCount() != 1 || fix.emerg.tickCount() != 0 {
		t.Fatalf("running force tick used wrong strategy")
	}

	fix.sup.setState(StateEmergency)
	if err := fix.sup.ForceTick(ctx); err != nil {
		t.Fatalf("force tick emergency: %v", err)
	}
	if fix.emerg.tickCount() != 1 {
		t.Fatalf("emergency force tick did not use direct dispatch")
	}

	fix.sup.setState(StateRetrying)
	if err := fix.sup.ForceTick(ctx); err == nil {
		t.Fatalf("expected error forcing tick while retrying")
	}

	fix.sup.setState(StateStopped)
	if err := fix.sup.ForceTick(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRunTick_IdleCacheSkipsNormalStrategy(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	fix.sup.setState(StateRunning)
	fix.cache.size = 0

	fix.sup.runTick(context.Background())
	if fix.normal.tickCount() != 0 {
		t.Fatalf("dispatch ran with no cached campaigns")
	}

	fix.cache.size = 2
	fix.sup.runTick(context.Background())
	if fix.normal.tickCount() != 1 {
		t.Fatalf("dispatch did not run with cached campaigns")
	}
}

func TestProbe_StaleDispatchRestartsScheduler(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	now := time.Unix(1700000000, 0)
	fix.sup.clock = func() time.Time { return now }
	fix.cache.size = 2

	if err := fix.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fix.sup.Stop()

	// Every tick fails, so no dispatch activity is ever recorded.
	fix.normal.err = errors.New("claim failed")
	fix.sup.runTick(context.Background())

	now = now.Add(50 * time.Minute)
	fix.sup.probe(context.Background())

	if got := len(*fix.sleeps); got != 1 {
		t.Fatalf("expected one restart attempt after staleness, got %d", got)
	}
	if got := fix.sup.State(); got != StateRunning {
		t.Fatalf("state = %s, want running after recovery", got)
	}

	// Recovery refreshes the activity baseline; an immediate re-probe must
	// not restart again.
	fix.sup.probe(context.Background())
	if got := len(*fix.sleeps); got != 1 {
		t.Fatalf("probe restarted despite fresh baseline, %d delays", got)
	}
}

type reportingStrategy struct {
	fakeStrategy
	last time.Time
}

func (r *reportingStrategy) LastTickAt() time.Time { return r.last }

func TestProbe_StrategyTickTimestampCountsAsActivity(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	now := time.Unix(1700000000, 0)
	fix.sup.clock = func() time.Time { return now }
	fix.cache.size = 1

	if err := fix.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer fix.sup.Stop()

	// Ticks keep completing (with per-campaign errors) and the strategy
	// timestamps them even though the supervisor never saw a clean pass.
	rs := &reportingStrategy{fakeStrategy: fakeStrategy{name: "cache"}}
	fix.sup.normal = rs

	now = now.Add(50 * time.Minute)
	rs.last = now.Add(-time.Minute)
	fix.sup.probe(context.Background())

	if got := len(*fix.sleeps); got != 0 {
		t.Fatalf("probe restarted despite recent dispatch activity, %d delays", got)
	}
	if got := fix.sup.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, still %s", want, s.State())
}

func TestStop_CancelsBackoffSleep(t *testing.T) {
	cfg := quietConfig()
	cfg.BackoffBase = 5 * time.Second
	cfg.BackoffCap = 5 * time.Second
	cfg.RetryBudget = 3

	// Real cancellable sleep, persistence permanently down: Start sits in
	// the first backoff delay until Stop cancels it.
	cache := &fakeCtrlCache{refreshErrs: []error{errors.New("connection refused")}}
	ping := func(ctx context.Context) error { return errors.New("connection refused") }
	sup := NewSupervisor(cfg, &fakeStrategy{name: "cache"}, &fakeStrategy{name: "direct"},
		cache, &fakeTrackerCtrl{}, &fakePoolCtrl{}, events.NewBus(), ping, slog.Default())

	done := make(chan struct{})
	go func() {
		_ = sup.Start(context.Background())
		close(done)
	}()

	waitForState(t, sup, StateRetrying)
	start := time.Now()
	sup.Stop()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stop blocked %v waiting out the backoff delay", elapsed)
	}

	<-done
	if got := sup.State(); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
}

func TestStop_IdempotentAndClearsState(t *testing.T) {
	fix := newSupervisorFixture(t, quietConfig())
	fix.tracker.active = 3
	fix.pool.inUse = 2

	if err := fix.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := fix.sup.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}

	fix.sup.Stop()
	fix.sup.Stop()

	if got := fix.sup.State(); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
	if fix.tracker.clears != 1 {
		t.Fatalf("tracker cleared %d times, want 1", fix.tracker.clears)
	}
	if fix.pool.resets != 1 {
		t.Fatalf("pool reset %d times, want 1", fix.pool.resets)
	}
	if fix.tracker.Count() != 0 || fix.pool.inUse != 0 {
		t.Fatalf("in-memory state not cleared on stop")
	}
}
