package client

import (
	"context"
	"net/http"

	tl "github.com/panyam/tokenlife"
)

// Client bundles an AuthClient, the Manager it refreshes through, and an
// http.Client whose requests are authorized by that Manager.
type Client struct {
	auth       *AuthClient
	manager    *tl.Manager
	httpClient *http.Client
}

// New creates a Client whose Manager renews through auth and persists to store
func New(auth *AuthClient, store tl.TokenStore, opts ...tl.ManagerOption) *Client {
	m := tl.NewManager(store, auth.Refresh, opts...)
	return &Client{
		auth:       auth,
		manager:    m,
		httpClient: &http.Client{Transport: NewTransport(auth.httpClient.Transport, m)},
	}
}

// NewFromConfig creates a Client from the server URL, endpoints and refresh
// timeout in cfg. Options in opts override those derived from cfg.
func NewFromConfig(cfg tl.Config, store tl.TokenStore, opts ...tl.ManagerOption) *Client {
	cfg.EnsureDefaults()
	auth := NewAuthClient(cfg.ServerURL,
		WithLoginEndpoint(cfg.LoginEndpoint),
		WithRefreshEndpoint(cfg.RefreshEndpoint))
	opts = append([]tl.ManagerOption{tl.WithRefreshTimeout(cfg.RefreshTimeout())}, opts...)
	return New(auth, store, opts...)
}

// Login authenticates and hands the resulting pair and profile to the manager
func (c *Client) Login(ctx context.Context, username, password string) (*tl.UserProfile, error) {
	res, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := c.manager.SetCredentials(res.Pair, res.User); err != nil {
		return nil, err
	}
	return res.User, nil
}

// Logout clears the session
func (c *Client) Logout() {
	c.manager.Clear()
}

// IsLoggedIn returns true if a usable pair and a profile are held
func (c *Client) IsLoggedIn() bool {
	return c.manager.Session().IsAuthenticated
}

// Manager returns the underlying manager
func (c *Client) Manager() *tl.Manager {
	return c.manager
}

// Auth returns the auth endpoint client
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// HTTPClient returns an HTTP client that authorizes requests and recovers once from 401s
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close releases the manager
func (c *Client) Close() {
	c.manager.Close()
}
