package tokenlife

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a renewal when no timeout is configured
const DefaultRefreshTimeout = 10 * time.Second

const refreshKey = "refresh"

// RefreshFunc exchanges a refresh token for a new pair. If the returned pair has
// no refresh token the current one is kept. Implementations should honor ctx.
type RefreshFunc func(ctx context.Context, refreshToken string) (CredentialPair, error)

// Manager is the single authority on the session's credentials.
//
// It mirrors the TokenStore in memory for synchronous queries, is the only writer
// of the store, and coordinates renewals so that concurrent callers share one
// network round trip. Create one per application with NewManager and Close it at
// shutdown.
type Manager struct {
	store   TokenStore
	refresh RefreshFunc
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics Metrics
	timeout time.Duration

	mu         sync.Mutex
	pair       CredentialPair
	user       *UserProfile
	generation uint64
	flags      NotificationFlags
	refreshing bool

	group  singleflight.Group
	events emitter
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithClock sets the clock used for expiry computations
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRefreshTimeout bounds each renewal round trip
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewManager creates a manager over store and loads any persisted session.
// A partially persisted pair or a corrupt profile is cleared on load.
func NewManager(store TokenStore, refresh RefreshFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		refresh: refresh,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		metrics: noopMetrics{},
		timeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	pair, user, _, err := m.readStore()
	if err != nil {
		m.logger.Warn("failed to load persisted session", "error", err)
	} else {
		m.pair, m.user = pair, user
	}
	return m
}

// readStore loads the persisted session. corrupt reports that the store held a
// session it could not use and has been cleared.
func (m *Manager) readStore() (pair CredentialPair, user *UserProfile, corrupt bool, err error) {
	if pair.AccessToken, err = m.store.LoadAccess(); err != nil {
		return CredentialPair{}, nil, false, fmt.Errorf("failed to load access token: %w", err)
	}
	if pair.RefreshToken, err = m.store.LoadRefresh(); err != nil {
		return CredentialPair{}, nil, false, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if user, err = m.store.LoadUser(); err != nil {
		return CredentialPair{}, nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	if pair.IsZero() {
		if user != nil {
			if err := m.store.Clear(); err != nil {
				return CredentialPair{}, nil, false, err
			}
		}
		return CredentialPair{}, nil, false, nil
	}
	if !pair.IsComplete() {
		m.logger.Warn("persisted credential pair is incomplete, clearing")
		if err := m.store.Clear(); err != nil {
			return CredentialPair{}, nil, false, err
		}
		return CredentialPair{}, nil, true, nil
	}
	if user == nil {
		// a corrupt profile clears the whole store while being loaded
		access, err := m.store.LoadAccess()
		if err != nil {
			return CredentialPair{}, nil, false, fmt.Errorf("failed to load access token: %w", err)
		}
		if access == "" {
			return CredentialPair{}, nil, true, nil
		}
	}
	return pair, user, false, nil
}

// Close drops all event subscribers. The manager must not be used afterwards.
func (m *Manager) Close() {
	m.events.reset()
}

// SetCredentials installs the pair obtained from a successful login
func (m *Manager) SetCredentials(pair CredentialPair, user *UserProfile) error {
	if !pair.IsComplete() {
		return ErrPartialCredentials
	}
	if user != nil {
		if err := user.Validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if err := m.store.Save(pair, user); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	m.pair = pair
	m.user = user
	gen := m.bumpLocked()
	m.mu.Unlock()

	m.logger.Info("session established", "generation", gen)
	m.Publish(Event{Kind: EventLogin, Generation: gen})
	return nil
}

// bumpLocked advances the generation and resets the per-generation flags
func (m *Manager) bumpLocked() uint64 {
	m.generation++
	m.flags = NotificationFlags{}
	return m.generation
}

// TokenInfo computes validity and time left from the held pair and the current time
func (m *Manager) TokenInfo() TokenInfo {
	m.mu.Lock()
	pair := m.pair
	m.mu.Unlock()
	return tokenInfo(pair, m.clock.Now())
}

func tokenInfo(pair CredentialPair, now time.Time) TokenInfo {
	access := TokenTimeLeft(pair.AccessToken, now)
	refresh := TokenTimeLeft(pair.RefreshToken, now)
	return TokenInfo{
		AccessValid:     access > 0,
		RefreshValid:    refresh > 0,
		AccessTimeLeft:  access,
		RefreshTimeLeft: refresh,
	}
}

// IsValid returns true if the access token is unexpired and a refresh token is held
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	pair := m.pair
	m.mu.Unlock()
	return pair.RefreshToken != "" && TokenTimeLeft(pair.AccessToken, m.clock.Now()) > 0
}

// AuthHeader returns the Authorization header value for the current access token.
// It returns false when there is no unexpired access token.
func (m *Manager) AuthHeader() (string, bool) {
	m.mu.Lock()
	access := m.pair.AccessToken
	m.mu.Unlock()
	if TokenTimeLeft(access, m.clock.Now()) <= 0 {
		return "", false
	}
	return "Bearer " + access, true
}

// Credentials returns a copy of the held pair
func (m *Manager) Credentials() CredentialPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

// Session reports whether a usable pair and a profile are held
func (m *Manager) Session() Session {
	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	if user == nil || !m.IsValid() {
		return Session{}
	}
	u := *user
	return Session{IsAuthenticated: true, User: &u}
}

// State returns the session state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.refreshing:
		return StateRefreshing
	case m.pair.IsComplete():
		return StateAuthenticated
	default:
		return StateLoggedOut
	}
}

// Generation returns the current token generation
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Flags returns the notification flags of the current generation
func (m *Manager) Flags() NotificationFlags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// MarkWarningShown sets a notification flag for the current generation. It
// returns true only for the caller that changed the flag.
func (m *Manager) MarkWarningShown(kind WarningKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case AccessWarning:
		if m.flags.AccessWarningShown {
			return false
		}
		m.flags.AccessWarningShown = true
	case RefreshWarning:
		if m.flags.RefreshWarningShown {
			return false
		}
		m.flags.RefreshWarningShown = true
	default:
		return false
	}
	return true
}

// Refresh renews the pair and reports whether the session is still usable.
//
// Callers arriving while a renewal is outstanding join it and receive its result;
// only one network call is made. The renewal itself is not tied to any caller's
// context and is bounded by the refresh timeout.
//
// If ctx ends first, that caller stops waiting and gets false while the renewal
// carries on for the others. A false result is therefore not a logout: the
// session was cleared only if EventLoggedOut was published, which State and
// Credentials also reflect.
//
// On failure the session is cleared and EventLoggedOut is published. Refresh
// never panics and never returns an error. Events are published after the
// renewal gate is released, so handlers may call back into the manager,
// including Refresh.
func (m *Manager) Refresh(ctx context.Context) bool {
	return m.refreshFrom(ctx, 0, false)
}

// RefreshIfStale is Refresh for a caller that observed generation gen and found
// its token rejected. If the session has moved past gen since, the renewal that
// moved it is reused and no network call is made.
func (m *Manager) RefreshIfStale(ctx context.Context, gen uint64) bool {
	return m.refreshFrom(ctx, gen, true)
}

// flightResult is what a renewal hands to every caller that shared it. The
// event it carries is published once, by whichever caller receives it first.
type flightResult struct {
	ok    bool
	event *Event
	once  sync.Once
}

func (r *flightResult) settle(m *Manager) bool {
	r.once.Do(func() {
		if r.event != nil {
			m.Publish(*r.event)
		}
	})
	return r.ok
}

func (m *Manager) refreshFrom(ctx context.Context, seen uint64, conditional bool) bool {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		// checked inside the flight so a caller that just missed a renewal does not start another
		if conditional && m.renewedSince(seen) {
			return &flightResult{ok: true}, nil
		}
		return m.runRefresh(detached), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RefreshDeduplicated()
		}
		return res.Val.(*flightResult).settle(m)
	case <-ctx.Done():
		// the result still has to be delivered if nobody else is waiting for it
		go func() {
			res := <-ch
			res.Val.(*flightResult).settle(m)
		}()
		return false
	}
}

func (m *Manager) renewedSince(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation != gen && m.pair.IsComplete()
}

// Refreshing returns true while a renewal is outstanding
func (m *Manager) Refreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing
}

// runRefresh performs one renewal. It runs inside the flight and must not
// publish events; the result carries them out.
func (m *Manager) runRefresh(ctx context.Context) *flightResult {
	log := m.logger.With("attempt", uuid.NewString())

	m.mu.Lock()
	gen := m.generation
	refreshToken := m.pair.RefreshToken
	m.refreshing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	if refreshToken == "" {
		log.Debug("refresh requested without a refresh token")
		return m.fail(gen, ErrNoRefreshToken, 0, log)
	}

	ctx, cancel := clockwork.WithTimeout(ctx, m.clock, m.timeout)
	defer cancel()

	start := m.clock.Now()
	pair, err := m.callRefresh(ctx, refreshToken)
	elapsed := m.clock.Since(start)

	if err == nil && pair.AccessToken == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		return m.fail(gen, err, elapsed, log)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Debug("discarding refresh result", "error", ErrStaleCompletion, "started", gen)
		m.metrics.ObserveRefresh(OutcomeStale, elapsed)
		return &flightResult{}
	}
	if err := m.store.Save(pair, m.user); err != nil {
		m.mu.Unlock()
		return m.fail(gen, fmt.Errorf("failed to persist refreshed credentials: %w", err), elapsed, log)
	}
	m.pair = pair
	newGen := m.bumpLocked()
	m.mu.Unlock()

	log.Info("token refreshed", "generation", newGen, "elapsed", elapsed)
	m.metrics.ObserveRefresh(OutcomeSuccess, elapsed)
	return &flightResult{ok: true, event: &Event{Kind: EventRefreshed, Generation: newGen}}
}

// fail clears the session if it is still the one the renewal started from
func (m *Manager) fail(gen uint64, err error, elapsed time.Duration, log *slog.Logger) *flightResult {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		log.Debug("discarding refresh failure", "error", ErrStaleCompletion, "cause", err)
		m.metrics.ObserveRefresh(OutcomeStale, elapsed)
		return &flightResult{}
	}
	had := m.clearLocked()
	newGen := m.generation
	m.mu.Unlock()

	outcome := OutcomeFailure
	if errors.Is(err, ErrRefreshTimeout) {
		outcome = OutcomeTimeout
	}
	log.Warn("token refresh failed, session cleared", "error", err, "outcome", outcome)
	m.metrics.ObserveRefresh(outcome, elapsed)
	if !had {
		return &flightResult{}
	}
	return &flightResult{event: &Event{Kind: EventLoggedOut, Generation: newGen, Reason: ReasonRefreshFailed}}
}

// callRefresh runs the RefreshFunc bounded by ctx even if it ignores ctx
func (m *Manager) callRefresh(ctx context.Context, refreshToken string) (CredentialPair, error) {
	if m.refresh == nil {
		return CredentialPair{}, errors.New("no refresh function configured")
	}

	type result struct {
		pair CredentialPair
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("refresh panicked: %v", r)}
			}
		}()
		pair, err := m.refresh(ctx, refreshToken)
		ch <- result{pair: pair, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return CredentialPair{}, fmt.Errorf("%w: %v", ErrRefreshTimeout, r.err)
		}
		return r.pair, r.err
	case <-ctx.Done():
		return CredentialPair{}, fmt.Errorf("%w: %v", ErrRefreshTimeout, ctx.Err())
	}
}

// Clear wipes the session from memory and the store. Safe to call at any time,
// including while a renewal is outstanding; that renewal's result is discarded.
func (m *Manager) Clear() {
	m.ClearWithReason(ReasonLogout)
}

// ClearWithReason is Clear with the reason reported on EventLoggedOut
func (m *Manager) ClearWithReason(reason string) {
	m.mu.Lock()
	had := m.clearLocked()
	gen := m.generation
	m.mu.Unlock()

	if had {
		m.logger.Info("session cleared", "reason", reason, "generation", gen)
		m.Publish(Event{Kind: EventLoggedOut, Generation: gen, Reason: reason})
	}
}

// clearLocked always advances the generation so outstanding renewals go stale.
// It reports whether there was anything to clear.
func (m *Manager) clearLocked() bool {
	had := !m.pair.IsZero() || m.user != nil
	if err := m.store.Clear(); err != nil {
		m.logger.Error("failed to clear token store", "error", err)
	}
	m.pair = CredentialPair{}
	m.user = nil
	m.bumpLocked()
	return had
}

// Reload re-reads the store and adopts its contents if they differ from memory.
// It lets a process pick up a pair written by another process sharing the store.
func (m *Manager) Reload() error {
	m.mu.Lock()
	pair, user, corrupt, err := m.readStore()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if pair == m.pair && sameUser(user, m.user) {
		m.mu.Unlock()
		return nil
	}
	m.pair = pair
	m.user = user
	gen := m.bumpLocked()
	m.mu.Unlock()

	m.logger.Info("session reloaded from store", "generation", gen, "present", !pair.IsZero())
	if pair.IsZero() {
		reason := ReasonLogout
		if corrupt {
			reason = ReasonCorruptStorage
		}
		m.Publish(Event{Kind: EventLoggedOut, Generation: gen, Reason: reason})
	} else {
		m.Publish(Event{Kind: EventRefreshed, Generation: gen})
	}
	return nil
}

func sameUser(a, b *UserProfile) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Username != b.Username || a.Email != b.Email ||
		a.DisplayName != b.DisplayName || len(a.Roles) != len(b.Roles) {
		return false
	}
	for i := range a.Roles {
		if a.Roles[i] != b.Roles[i] {
			return false
		}
	}
	return true
}

// Subscribe registers h for events and returns a function that removes it
func (m *Manager) Subscribe(h EventHandler) func() {
	return m.events.subscribe(h)
}

// Publish delivers ev to all subscribers
func (m *Manager) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.clock.Now()
	}
	m.metrics.ObserveEvent(ev.Kind)
	m.events.emit(ev)
}

// Clock returns the manager's clock
func (m *Manager) Clock() clockwork.Clock {
	return m.clock
}

// Logger returns the manager's logger
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Metrics returns the manager's metrics recorder
func (m *Manager) Metrics() Metrics {
	return m.metrics
}
