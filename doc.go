// Package tokenlife manages the lifetime of an access/refresh token pair on the
// client side of a token-authenticated API.
//
// A Manager holds the pair and the cached user profile, mirrors them to a
// TokenStore, and renews the pair when asked. Concurrent renewal requests share
// one network round trip. A Monitor polls the Manager, renews ahead of expiry,
// warns once before the refresh token runs out, and forces a logout after it has.
//
// # Architecture
//
// CredentialPair: the access token and the refresh token. Both are present or
// both are absent; stores never persist half a pair.
//
// Generation: a counter advanced on every login, renewal, reload and logout.
// A renewal that settles after its generation was replaced is discarded, so a
// logout can never be undone by a late response.
//
// Events: the Manager and the Monitor publish Events (login, refreshed,
// warnings, expiry, logged out) to subscribers, which drive the UI.
//
// # Basic Usage
//
//	import (
//	    tl "github.com/panyam/tokenlife"
//	    "github.com/panyam/tokenlife/client"
//	    "github.com/panyam/tokenlife/stores/fs"
//	)
//
//	cfg := tl.MustLoad("")
//	store, _ := fs.NewFSTokenStore(cfg.StorePath, "myapp")
//	c := client.NewFromConfig(*cfg, store)
//	defer c.Close()
//
//	c.Manager().Subscribe(func(ev tl.Event) {
//	    if ev.Kind == tl.EventLoggedOut {
//	        // show the login screen
//	    }
//	})
//
//	if !c.IsLoggedIn() {
//	    _, err := c.Login(ctx, "alice", "secret")
//	}
//
//	monitor := tl.NewMonitor(c.Manager(), *cfg)
//	_ = monitor.Start(ctx)
//	defer monitor.Stop()
//
//	resp, err := c.HTTPClient().Get("https://api.example.com/me")
//
// # Store Implementations
//
// The stores packages provide a file store (stores/fs) with optional
// encryption and change notification, plus Redis, GORM and Datastore stores
// for clients that keep state in those systems.
//
// # Token Decoding
//
// Expiry is read from the exp claim of each token without verifying its
// signature. It is used for scheduling only; the server remains the authority
// on whether a token is accepted.
//
// # Testing
//
// Manager and Monitor take a clockwork.Clock, so expiry behaviour can be driven
// with a fake clock. The internal/authtest package serves real signed tokens
// for end to end tests with httptest.
package tokenlife
