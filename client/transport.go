package client

import (
	"io"
	"net/http"

	tl "github.com/panyam/tokenlife"
)

// Transport is an http.RoundTripper that authorizes requests from a Manager.
//
// When a response comes back 401 it renews the pair through Manager.Refresh,
// which many concurrent failures share, and retries the original request
// exactly once. If the session was already renewed by someone else since the
// request was sent it retries without renewing. If renewal fails the 401 is
// returned as is; the manager has already cleared the session and published
// EventLoggedOut.
type Transport struct {
	Base    http.RoundTripper
	Manager *tl.Manager
}

// NewTransport wraps base (http.DefaultTransport if nil) with auth handling for m
func NewTransport(base http.RoundTripper, m *tl.Manager) *Transport {
	return &Transport{Base: base, Manager: m}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	gen := t.Manager.Generation()
	header, ok := t.Manager.AuthHeader()

	resp, err := t.base().RoundTrip(withAuth(req, header, ok))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || t.Manager.Credentials().IsZero() {
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		return resp, nil
	}
	if !t.Manager.RefreshIfStale(req.Context(), gen) {
		return resp, nil
	}
	current, ok := t.Manager.AuthHeader()
	if !ok {
		return resp, nil
	}

	// Close original response body before retrying
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return t.base().RoundTrip(withAuth(retry, current, true))
}

// withAuth returns a clone of req carrying header. The original is never mutated.
func withAuth(req *http.Request, header string, ok bool) *http.Request {
	if !ok {
		return req
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", header)
	return req2
}

// rewind returns a copy of req with a fresh body, or false if the body cannot be replayed
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	req2 := req.Clone(req.Context())
	req2.Body = body
	return req2, true
}
