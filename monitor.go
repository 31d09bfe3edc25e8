package tokenlife

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
)

// Monitor polls a Manager on a fixed cadence. It renews the pair before the
// access token expires, emits a one-time warning before the refresh token runs
// out, and forces a logout once it has.
type Monitor struct {
	manager *Manager
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger

	// checking guards against overlapping checks, independently of the
	// manager's own renewal gate
	checking atomic.Bool

	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	logoutPending bool
	logoutGen     uint64
	pending       sync.WaitGroup
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithMonitorClock overrides the clock, which defaults to the manager's
func WithMonitorClock(clock clockwork.Clock) MonitorOption {
	return func(mo *Monitor) {
		if clock != nil {
			mo.clock = clock
		}
	}
}

// WithMonitorLogger overrides the logger, which defaults to the manager's
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(mo *Monitor) {
		if logger != nil {
			mo.logger = logger
		}
	}
}

// NewMonitor creates a stopped monitor for m. Unset config fields take their defaults.
func NewMonitor(m *Manager, cfg Config, opts ...MonitorOption) *Monitor {
	cfg.EnsureDefaults()
	mo := &Monitor{
		manager: m,
		cfg:     cfg,
		clock:   m.Clock(),
		logger:  m.Logger().With("component", "expiry_monitor"),
	}
	for _, opt := range opts {
		opt(mo)
	}
	return mo
}

// Start launches the polling goroutine. It checks once immediately and then
// every poll interval until ctx ends or Stop is called. An invalid config is
// reported as ErrInvalidConfig.
func (mo *Monitor) Start(ctx context.Context) error {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	if mo.cancel != nil {
		return ErrMonitorRunning
	}
	if err := mo.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	mo.cancel = cancel
	mo.done = done

	ticker := mo.clock.NewTicker(mo.cfg.PollInterval())
	go mo.run(ctx, ticker, done)

	mo.logger.Debug("expiry monitor started", "interval", mo.cfg.PollInterval())
	return nil
}

func (mo *Monitor) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	mo.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			mo.Check(ctx)
		}
	}
}

// Stop cancels the polling goroutine and any pending forced logout, and waits
// for them to exit. Stopping a stopped monitor is a no-op.
func (mo *Monitor) Stop() {
	mo.mu.Lock()
	cancel, done := mo.cancel, mo.done
	mo.cancel, mo.done = nil, nil
	mo.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	mo.pending.Wait()
	mo.logger.Debug("expiry monitor stopped")
}

// Running returns true between Start and Stop
func (mo *Monitor) Running() bool {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.cancel != nil
}

// Check runs a single poll. Concurrent calls while one is in progress return
// immediately.
func (mo *Monitor) Check(ctx context.Context) {
	if !mo.checking.CompareAndSwap(false, true) {
		mo.logger.Debug("expiry check already in progress, skipping")
		return
	}
	defer mo.checking.Store(false)

	if ctx.Err() != nil {
		return
	}
	if !mo.manager.Credentials().IsComplete() {
		return
	}

	gen := mo.manager.Generation()
	info := mo.manager.TokenInfo()

	switch {
	case info.AccessTimeLeft <= mo.cfg.ProactiveRefreshThreshold() && info.RefreshTimeLeft > 0:
		if mo.manager.MarkWarningShown(AccessWarning) {
			mo.manager.Publish(Event{Kind: EventAccessExpiring, Generation: gen, TimeLeft: info.AccessTimeLeft})
		}
		if mo.manager.RefreshIfStale(ctx, gen) {
			return
		}
		// a cancelled check or a session replaced mid-flight is not an expiry
		if ctx.Err() != nil || mo.manager.Credentials().IsComplete() {
			return
		}
		mo.logger.Info("proactive refresh failed, session expired")
		mo.manager.Publish(Event{Kind: EventSessionExpired, Generation: gen})
		return

	case info.RefreshTimeLeft > 0 && info.RefreshTimeLeft <= mo.cfg.WarningThreshold():
		if mo.manager.MarkWarningShown(RefreshWarning) {
			mo.logger.Info("session expiring soon", "time_left", info.RefreshTimeLeft)
			mo.manager.Publish(Event{
				Kind:       EventSessionWarning,
				Generation: gen,
				TimeLeft:   info.RefreshTimeLeft,
				DisplayFor: mo.cfg.WarningDisplayDuration(),
			})
		}
	}

	if info.RefreshTimeLeft <= 0 {
		mo.expire(ctx, gen)
	}
}

// expire announces the expiry and clears the session after the forced logout
// delay. At most one forced logout is scheduled per generation.
func (mo *Monitor) expire(ctx context.Context, gen uint64) {
	mo.mu.Lock()
	if mo.logoutPending && mo.logoutGen == gen {
		mo.mu.Unlock()
		return
	}
	mo.logoutPending = true
	mo.logoutGen = gen
	mo.pending.Add(1)
	mo.mu.Unlock()

	mo.logger.Info("refresh token expired, forcing logout", "delay", mo.cfg.ForcedLogoutDelay())
	mo.manager.Publish(Event{Kind: EventSessionExpired, Generation: gen})

	delay := mo.cfg.ForcedLogoutDelay()
	go func() {
		defer mo.pending.Done()
		defer func() {
			mo.mu.Lock()
			if mo.logoutGen == gen {
				mo.logoutPending = false
			}
			mo.mu.Unlock()
		}()

		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-mo.clock.After(delay):
			}
		}
		if mo.manager.Generation() != gen {
			// a new login replaced the expired session during the grace period
			return
		}
		mo.manager.ClearWithReason(ReasonSessionExpired)
	}()
}
