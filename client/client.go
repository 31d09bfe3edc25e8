package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	tl "github.com/panyam/tokenlife"
)

// AuthClient talks to the login and refresh endpoints. It never attaches
// credentials itself and is safe for concurrent use.
type AuthClient struct {
	serverURL       string
	httpClient      *http.Client
	loginEndpoint   string
	refreshEndpoint string
}

// AuthClientOption configures an AuthClient
type AuthClientOption func(*AuthClient)

// WithLoginEndpoint sets a custom login endpoint path
func WithLoginEndpoint(path string) AuthClientOption {
	return func(c *AuthClient) {
		if path != "" {
			c.loginEndpoint = path
		}
	}
}

// WithRefreshEndpoint sets a custom refresh endpoint path
func WithRefreshEndpoint(path string) AuthClientOption {
	return func(c *AuthClient) {
		if path != "" {
			c.refreshEndpoint = path
		}
	}
}

// WithHTTPClient sets the HTTP client used for the auth endpoints (timeouts, TLS, etc.)
func WithHTTPClient(client *http.Client) AuthClientOption {
	return func(c *AuthClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTransport sets the transport used for the auth endpoints
func WithTransport(transport http.RoundTripper) AuthClientOption {
	return func(c *AuthClient) {
		if transport != nil {
			c.httpClient = &http.Client{Transport: transport}
		}
	}
}

// NewAuthClient creates a client for the auth endpoints of serverURL
func NewAuthClient(serverURL string, opts ...AuthClientOption) *AuthClient {
	// Normalize server URL
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:       strings.TrimRight(serverURL, "/"),
		httpClient:      &http.Client{},
		loginEndpoint:   "/auth/login",
		refreshEndpoint: "/auth/refresh",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Login exchanges a username and password for a credential pair and profile
func (c *AuthClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var resp LoginResponse
	if err := c.post(ctx, c.loginEndpoint, LoginRequest{Username: username, Password: password}, &resp, ErrLoginRejected); err != nil {
		return nil, err
	}

	pair := tl.CredentialPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !pair.IsComplete() {
		return nil, fmt.Errorf("invalid login response: %w", tl.ErrPartialCredentials)
	}
	if resp.User != nil {
		if err := resp.User.Validate(); err != nil {
			return nil, fmt.Errorf("invalid login response: %w", err)
		}
	}
	return &LoginResult{Pair: pair, User: resp.User}, nil
}

// Refresh exchanges a refresh token for a new pair. It has the shape of
// tl.RefreshFunc. The returned refresh token is empty if the server did not rotate it.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (tl.CredentialPair, error) {
	if refreshToken == "" {
		return tl.CredentialPair{}, tl.ErrNoRefreshToken
	}

	var resp RefreshResponse
	if err := c.post(ctx, c.refreshEndpoint, RefreshRequest{RefreshToken: refreshToken}, &resp, ErrRefreshRejected); err != nil {
		return tl.CredentialPair{}, err
	}
	if resp.AccessToken == "" {
		return tl.CredentialPair{}, fmt.Errorf("invalid refresh response: missing access token")
	}
	return tl.CredentialPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// post sends body as JSON and decodes a 200 response into out
func (c *AuthClient) post(ctx context.Context, endpoint string, body, out any, rejected error) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		switch {
		case errResp.Message != "":
			return fmt.Errorf("%w: %s", rejected, errResp.Message)
		case errResp.Error != "":
			return fmt.Errorf("%w: %s", rejected, errResp.Error)
		default:
			return fmt.Errorf("%w: HTTP %d", rejected, resp.StatusCode)
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
