//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// KindSessionTokens is the Datastore kind of persisted sessions
const KindSessionTokens = "SessionTokens"

// SessionEntity is the Datastore entity for a persisted session.
// Key format: the session name under the store's namespace.
type SessionEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	AccessToken  string         `datastore:"access_token,noindex"`
	RefreshToken string         `datastore:"refresh_token,noindex"`
	User         []byte         `datastore:"user,noindex"` // JSON encoded
	UpdatedAt    time.Time      `datastore:"updated_at"`
}
