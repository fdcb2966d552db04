package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dialer-platform/internal/config"
	"dialer-platform/internal/events"
	"dialer-platform/internal/metrics"
)

// State is the supervisor state machine:
// initializing -> running -> error -> (retrying|emergency) -> running|stopped.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateError
	StateRetrying
	StateEmergency
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateRetrying:
		return "retrying"
	case StateEmergency:
		return "emergency"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CacheControl is the campaign cache surface the supervisor drives.
type CacheControl interface {
	Refresh(ctx context.Context) error
	Len() int
	Clear()
}

// TrackerControl clears in-flight call state on stop.
type TrackerControl interface {
	Count() int
	Clear()
}

// PoolControl clears transfer usage counters on stop.
type PoolControl interface {
	ResetAll() int
}

// Supervisor boots the scheduler, owns all three timers (dispatch tick,
// cache watcher, health probe), supervises recovery with a bounded backoff
// budget, and degrades to the emergency strategy when the budget runs out.
type Supervisor struct {
	cfg config.DialerConfig
	log *slog.Logger

	normal    Strategy
	emergency Strategy

	cache   CacheControl
	tracker TrackerControl
	pool    PoolControl
	bus     *events.Bus

	// ping probes the persistence layer (DB round-trip with timeout).
	ping func(ctx context.Context) error

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	mu            sync.Mutex
	state         State
	retryAttempts int
	lastTick      time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewSupervisor(
	cfg config.DialerConfig,
	normal, emergency Strategy,
	cache CacheControl,
	tracker TrackerControl,
	pool PoolControl,
	bus *events.Bus,
	ping func(ctx context.Context) error,
	log *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		log:       log,
		normal:    normal,
		emergency: emergency,
		cache:     cache,
		tracker:   tracker,
		pool:      pool,
		bus:       bus,
		ping:      ping,
		clock:     time.Now,
		sleep:     sleepWithContext,
		state:     StateInitializing,
	}
}

// Start performs the initial load and launches the timer loop. An initial
// load that keeps failing within the retry budget degrades to emergency
// mode instead of crashing the process.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateInitializing)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.cache.Refresh(loopCtx); err != nil {
		s.log.Error("initial campaign load failed", "err", err)
		s.recover(loopCtx)
	} else {
		s.markActivity()
		s.setState(StateRunning)
	}

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.log.Info("dialer supervisor started",
		"tick_interval", s.cfg.TickInterval,
		"watcher_interval", s.cfg.WatcherInterval,
		"probe_interval", s.cfg.ProbeInterval)
	return nil
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	tick := time.NewTicker(s.cfg.TickInterval)
	watcher := time.NewTicker(s.cfg.WatcherInterval)
	probe := time.NewTicker(s.cfg.ProbeInterval)
	defer tick.Stop()
	defer watcher.Stop()
	defer probe.Stop()

	emergencyCadence := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			// The slower emergency cadence is applied lazily so a recovery
			// back to running restores the normal tick rate.
			if s.State() == StateEmergency && !emergencyCadence {
				tick.Reset(s.cfg.EmergencyTickInterval)
				emergencyCadence = true
			} else if s.State() != StateEmergency && emergencyCadence {
				tick.Reset(s.cfg.TickInterval)
				emergencyCadence = false
			}
			s.runTick(ctx)

		case <-watcher.C:
			if s.State() != StateRunning {
				continue
			}
			if err := s.cache.Refresh(ctx); err != nil {
				// Caught and logged, never fatal to the watcher itself.
				s.log.Error("campaign watcher refresh failed", "err", err)
			}

		case <-probe.C:
			s.probe(ctx)
		}
	}
}

func (s *Supervisor) runTick(ctx context.Context) {
	strategy := s.currentStrategy()
	if strategy == nil {
		return
	}
	if strategy == s.normal && s.cache.Len() == 0 {
		// Dispatch runs only while there is cached work.
		return
	}
	if err := strategy.RunTick(ctx); err != nil {
		s.log.Error("dispatch tick failed", "strategy", strategy.Name(), "err", err)
		return
	}
	s.markActivity()
}

func (s *Supervisor) markActivity() {
	s.mu.Lock()
	s.lastTick = s.clock()
	s.mu.Unlock()
}

func (s *Supervisor) currentStrategy() Strategy {
	switch s.State() {
	case StateRunning:
		return s.normal
	case StateEmergency:
		return s.emergency
	default:
		return nil
	}
}

// probe checks that persistence answers and that dispatch has shown
// activity within the staleness window. In emergency mode only the basic
// liveness probe runs.
func (s *Supervisor) probe(ctx context.Context) {
	state := s.State()
	if state == StateStopped || state == StateRetrying {
		return
	}

	if err := s.ping(ctx); err != nil {
		s.log.Error("persistence probe failed", "err", err)
		s.recover(ctx)
		return
	}

	if state != StateRunning {
		return
	}
	s.mu.Lock()
	last := s.lastTick
	s.mu.Unlock()
	// Partial-failure ticks count as activity too: the strategy timestamps
	// every completed pass, even ones where individual campaigns errored.
	if tr, ok := s.normal.(tickReporter); ok {
		if t := tr.LastTickAt(); t.After(last) {
			last = t
		}
	}
	if s.cache.Len() > 0 && s.clock().Sub(last) > s.cfg.StalenessWindow {
		s.log.Error("dispatch activity stale", "last_tick", last, "window", s.cfg.StalenessWindow)
		s.recover(ctx)
	}
}

// tickReporter is implemented by strategies that record when their last
// dispatch pass finished.
type tickReporter interface {
	LastTickAt() time.Time
}

// recover runs the bounded restart sequence: delay grows with the attempt
// count up to the configured cap. Exhausting the budget drops the
// scheduler into emergency mode.
func (s *Supervisor) recover(ctx context.Context) {
	s.setState(StateError)

	for attempt := 1; attempt <= s.cfg.RetryBudget; attempt++ {
		if ctx.Err() != nil {
			return
		}
		s.setState(StateRetrying)
		s.mu.Lock()
		s.retryAttempts = attempt
		s.mu.Unlock()
		metrics.SupervisorRestartsTotal.Inc()

		delay := s.backoffDelay(attempt)
		s.log.Warn("scheduling restart attempt", "attempt", attempt, "budget", s.cfg.RetryBudget, "delay", delay)
		s.sleep(ctx, delay)
		if ctx.Err() != nil {
			return
		}

		if err := s.restart(ctx); err != nil {
			s.log.Error("restart attempt failed", "attempt", attempt, "err", err)
			continue
		}

		s.mu.Lock()
		s.retryAttempts = 0
		s.mu.Unlock()
		s.markActivity()
		s.setState(StateRunning)
		s.log.Info("scheduler recovered", "attempts", attempt)
		return
	}

	s.setState(StateEmergency)
	s.log.Error("retry budget exhausted, entering emergency mode", "budget", s.cfg.RetryBudget)
}

func (s *Supervisor) restart(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("persistence still unavailable: %w", err)
	}
	if err := s.cache.Refresh(ctx); err != nil {
		return fmt.Errorf("campaign reload failed: %w", err)
	}
	return nil
}

// backoffDelay grows linearly with the attempt count (d, 2d, 3d, ...)
// and is capped.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * s.cfg.BackoffBase
	if d > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return d
}

// sleepWithContext waits for the full duration unless ctx is cancelled
// first, so Stop never has to sit out a backoff delay.
func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ForceTick runs one dispatch tick immediately, outside the timer.
// Works in emergency mode too; that is the point of the escape hatch.
func (s *Supervisor) ForceTick(ctx context.Context) error {
	state := s.State()
	switch state {
	case StateRunning:
		return s.normal.RunTick(ctx)
	case StateEmergency:
		return s.emergency.RunTick(ctx)
	case StateStopped:
		return ErrStopped
	default:
		return fmt.Errorf("dialer: cannot force tick in state %s", state)
	}
}

// Stop cancels all timers and clears the in-memory campaign, call, and
// resource-usage maps. Durable state is untouched. Idempotent and safe to
// call from signal handling.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		s.cache.Clear()
		s.tracker.Clear()
		if n := s.pool.ResetAll(); n > 0 {
			s.log.Warn("transfer slots cleared on stop", "slots", n)
		}

		s.setState(StateStopped)
		s.log.Info("dialer supervisor stopped")
	})
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	metrics.SupervisorState.Set(float64(st))
	if prev != st {
		s.bus.Publish(events.TypeSystemState, map[string]any{"state": st.String()})
	}
}

// State reports the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RetryAttempts reports the current restart attempt counter.
func (s *Supervisor) RetryAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAttempts
}

// ErrStopped is returned by admin operations against a stopped scheduler.
var ErrStopped = errors.New("dialer: supervisor stopped")
