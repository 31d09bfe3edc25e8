package tokenlife_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	tl "github.com/panyam/tokenlife"
	"github.com/panyam/tokenlife/internal/authtest"
)

var (
	testSecret = []byte("tokenlife-test-secret")
	epoch      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// mockTokenStore is an in-memory TokenStore that counts writes
type mockTokenStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	rawUser []byte

	saves  int
	clears int

	saveErr error
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{}
}

func (s *mockTokenStore) Save(pair tl.CredentialPair, user *tl.UserProfile) error {
	if !pair.IsComplete() {
		return tl.ErrPartialCredentials
	}
	raw, err := tl.MarshalUserProfile(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.access, s.refresh, s.rawUser = pair.AccessToken, pair.RefreshToken, raw
	s.saves++
	return nil
}

func (s *mockTokenStore) LoadAccess() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, nil
}

func (s *mockTokenStore) LoadRefresh() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh, nil
}

func (s *mockTokenStore) LoadUser() (*tl.UserProfile, error) {
	s.mu.Lock()
	raw := s.rawUser
	s.mu.Unlock()
	return tl.LoadUserOrClear(raw, s.Clear, nil)
}

func (s *mockTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh, s.rawUser = "", "", nil
	s.clears++
	return nil
}

// put writes raw values, bypassing Save's checks
func (s *mockTokenStore) put(access, refresh string, rawUser []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh, s.rawUser = access, refresh, rawUser
}

func (s *mockTokenStore) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access == "" && s.refresh == "" && s.rawUser == nil
}

func (s *mockTokenStore) stored() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh
}

func (s *mockTokenStore) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

var errRejected = errors.New("refresh rejected")

func token(kind string, exp time.Time) string {
	return authtest.NewToken(testSecret, "alice", kind, exp)
}

// pairAt signs a pair whose tokens expire the given durations after now
func pairAt(now time.Time, access, refresh time.Duration) tl.CredentialPair {
	return tl.CredentialPair{
		AccessToken:  token("access", now.Add(access)),
		RefreshToken: token("refresh", now.Add(refresh)),
	}
}

func alice() *tl.UserProfile {
	return &tl.UserProfile{ID: "user-alice", Username: "alice", Email: "alice@example.com"}
}

// eventRecorder collects events from a manager
type eventRecorder struct {
	mu     sync.Mutex
	events []tl.Event
}

func record(m *tl.Manager) *eventRecorder {
	r := &eventRecorder{}
	m.Subscribe(func(ev tl.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *eventRecorder) count(kind tl.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(kind tl.EventKind) (tl.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return tl.Event{}, false
}

// newTestManager creates a manager on a fake clock holding a fresh session
func newTestManager(t *testing.T, refresh tl.RefreshFunc, opts ...tl.ManagerOption) (*tl.Manager, *mockTokenStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	store := newMockTokenStore()
	opts = append([]tl.ManagerOption{tl.WithClock(clock)}, opts...)
	m := tl.NewManager(store, refresh, opts...)
	t.Cleanup(m.Close)
	if err := m.SetCredentials(pairAt(clock.Now(), 15*time.Minute, 24*time.Hour), alice()); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	return m, store, clock
}
