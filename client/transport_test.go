package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tl "github.com/panyam/tokenlife"
	"github.com/panyam/tokenlife/internal/authtest"
	"github.com/panyam/tokenlife/stores/fs"
)

// testEnv is an auth server whose clock can be moved ahead of the client's
type testEnv struct {
	auth   *authtest.Server
	server *httptest.Server
	skew   atomic.Int64
	client *Client
	store  *fs.FSTokenStore
}

func newTestEnv(t *testing.T, opts ...func(*authtest.Server)) *testEnv {
	t.Helper()
	env := &testEnv{auth: authtest.NewServer(map[string]string{"alice": "secret"})}
	env.auth.Now = func() time.Time {
		return time.Now().Add(time.Duration(env.skew.Load()))
	}
	for _, opt := range opts {
		opt(env.auth)
	}
	env.server = httptest.NewServer(env.auth)
	t.Cleanup(env.server.Close)

	store, err := fs.NewFSTokenStore(filepath.Join(t.TempDir(), "session.json"), "")
	if err != nil {
		t.Fatalf("NewFSTokenStore() error = %v", err)
	}
	env.store = store
	env.client = New(NewAuthClient(env.server.URL), store)
	t.Cleanup(env.client.Close)
	return env
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := env.client.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

// expireAccess moves the server past the access token lifetime; the client
// still believes its token is valid
func (env *testEnv) expireAccess() {
	env.skew.Store(int64(20 * time.Minute))
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := env.client.HTTPClient().Get(env.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	return resp
}

func TestClient_Login(t *testing.T) {
	env := newTestEnv(t)
	var logins atomic.Int32
	env.client.Manager().Subscribe(func(ev tl.Event) {
		if ev.Kind == tl.EventLogin {
			logins.Add(1)
		}
	})

	user, err := env.client.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if user.Username != "alice" || user.Email != "alice@example.com" {
		t.Errorf("user = %+v", user)
	}
	if !env.client.IsLoggedIn() {
		t.Error("expected to be logged in")
	}
	if logins.Load() != 1 {
		t.Errorf("login events = %d, want 1", logins.Load())
	}

	access, _ := env.store.LoadAccess()
	if access != env.client.Manager().Credentials().AccessToken {
		t.Error("access token not persisted")
	}

	resp := env.get(t, "/api/me")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.client.Login(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("Login() should fail with a wrong password")
	}
	if env.client.IsLoggedIn() {
		t.Error("should not be logged in")
	}
	if access, _ := env.store.LoadAccess(); access != "" {
		t.Error("nothing should be persisted")
	}
}

func TestTransport_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const requests = 5

	env := newTestEnv(t)
	env.login(t)
	before := env.client.Manager().Credentials()
	env.expireAccess()

	var wg sync.WaitGroup
	statuses := make([]int, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.client.HTTPClient().Get(env.server.URL + "/api/me")
			if err != nil {
				t.Errorf("GET error = %v", err)
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, status := range statuses {
		if status != http.StatusOK {
			t.Errorf("request %d status = %d, want 200", i, status)
		}
	}
	if got := env.auth.RefreshCalls(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}

	after := env.client.Manager().Credentials()
	if after.AccessToken == before.AccessToken || after.RefreshToken == before.RefreshToken {
		t.Error("expected a rotated pair")
	}
	stored, _ := env.store.LoadRefresh()
	if stored != after.RefreshToken {
		t.Error("rotated refresh token not persisted")
	}
}

func TestTransport_ReplaysBodyOnRetry(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.expireAccess()

	resp, err := env.client.HTTPClient().Post(env.server.URL+"/api/echo", "text/plain", strings.NewReader("hello again"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello again" {
		t.Errorf("body = %q, want the original body", body)
	}
	if env.auth.RefreshCalls() != 1 {
		t.Errorf("refresh calls = %d, want 1", env.auth.RefreshCalls())
	}
}

func TestTransport_UnreplayableBodyIsNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.expireAccess()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/echo", io.NopCloser(strings.NewReader("once")))
	resp, err := env.client.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if env.auth.RefreshCalls() != 0 {
		t.Errorf("refresh calls = %d, want 0", env.auth.RefreshCalls())
	}
}

func TestTransport_RefreshFailureLogsOut(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.expireAccess()
	env.auth.RejectRefresh(true)

	loggedOut := make(chan tl.Event, 1)
	env.client.Manager().Subscribe(func(ev tl.Event) {
		if ev.Kind == tl.EventLoggedOut {
			loggedOut <- ev
		}
	})

	resp := env.get(t, "/api/me")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the original 401", resp.StatusCode)
	}

	select {
	case ev := <-loggedOut:
		if ev.Reason != tl.ReasonRefreshFailed {
			t.Errorf("reason = %s, want %s", ev.Reason, tl.ReasonRefreshFailed)
		}
	default:
		t.Error("expected a logged out event")
	}
	if env.client.IsLoggedIn() {
		t.Error("should be logged out")
	}
	if refresh, _ := env.store.LoadRefresh(); refresh != "" {
		t.Error("session file should be cleared")
	}
}

func TestTransport_NoCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/me")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if env.auth.RefreshCalls() != 0 {
		t.Errorf("refresh calls = %d, want 0", env.auth.RefreshCalls())
	}
}

func TestTransport_KeepsUnrotatedRefreshToken(t *testing.T) {
	env := newTestEnv(t, func(s *authtest.Server) { s.KeepRefreshToken = true })
	env.login(t)
	refresh := env.client.Manager().Credentials().RefreshToken
	env.expireAccess()

	resp := env.get(t, "/api/me")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := env.client.Manager().Credentials().RefreshToken; got != refresh {
		t.Error("refresh token should be kept when the server does not rotate it")
	}
}

func TestTransport_DoesNotMutateRequest(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/me", nil)
	resp, err := env.client.HTTPClient().Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if req.Header.Get("Authorization") != "" {
		t.Error("caller's request must not be modified")
	}
}

func TestNewFromConfig(t *testing.T) {
	env := newTestEnv(t)

	cfg := tl.DefaultConfig()
	cfg.ServerURL = env.server.URL
	c := NewFromConfig(cfg, env.store)
	defer c.Close()

	if c.Auth().ServerURL() != env.server.URL {
		t.Errorf("ServerURL() = %s, want %s", c.Auth().ServerURL(), env.server.URL)
	}
	if _, err := c.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	c.Logout()
	if c.IsLoggedIn() {
		t.Error("should be logged out")
	}
}
