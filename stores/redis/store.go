// Package redis provides a Redis-backed TokenStore.
//
// The session is kept under three keys, <namespace>:access_token,
// <namespace>:refresh_token and <namespace>:user. Save writes them in one
// MULTI/EXEC transaction and Clear deletes them in a single DEL, so other
// readers never observe half a session.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	tl "github.com/panyam/tokenlife"
)

// TokenStore implements tl.TokenStore on Redis
type TokenStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	ctx       context.Context
}

// NewTokenStore creates a store under namespace (tl.DefaultNamespace if empty).
// A positive ttl expires the keys, which should be at least the refresh token lifetime.
func NewTokenStore(client redis.UniversalClient, namespace string, ttl time.Duration) *TokenStore {
	if namespace == "" {
		namespace = tl.DefaultNamespace
	}
	return &TokenStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		ctx:       context.Background(),
	}
}

// WithContext returns a copy of the store with the given context
func (s *TokenStore) WithContext(ctx context.Context) *TokenStore {
	return &TokenStore{
		client:    s.client,
		namespace: s.namespace,
		ttl:       s.ttl,
		ctx:       ctx,
	}
}

func (s *TokenStore) accessKey() string  { return s.namespace + ":access_token" }
func (s *TokenStore) refreshKey() string { return s.namespace + ":refresh_token" }
func (s *TokenStore) userKey() string    { return s.namespace + ":user" }

// Save writes all three keys in one transaction
func (s *TokenStore) Save(pair tl.CredentialPair, user *tl.UserProfile) error {
	if !pair.IsComplete() {
		return tl.ErrPartialCredentials
	}
	rawUser, err := tl.MarshalUserProfile(user)
	if err != nil {
		return fmt.Errorf("failed to serialize user: %w", err)
	}

	_, err = s.client.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(s.ctx, s.accessKey(), pair.AccessToken, s.ttl)
		pipe.Set(s.ctx, s.refreshKey(), pair.RefreshToken, s.ttl)
		if rawUser != nil {
			pipe.Set(s.ctx, s.userKey(), string(rawUser), s.ttl)
		} else {
			pipe.Del(s.ctx, s.userKey())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *TokenStore) get(key string) (string, error) {
	val, err := s.client.Get(s.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

// LoadAccess returns the stored access token
func (s *TokenStore) LoadAccess() (string, error) {
	return s.get(s.accessKey())
}

// LoadRefresh returns the stored refresh token
func (s *TokenStore) LoadRefresh() (string, error) {
	return s.get(s.refreshKey())
}

// LoadUser returns the stored profile, clearing the session if it is invalid
func (s *TokenStore) LoadUser() (*tl.UserProfile, error) {
	raw, err := s.get(s.userKey())
	if err != nil {
		return nil, err
	}
	return tl.LoadUserOrClear([]byte(raw), s.Clear, nil)
}

// Clear deletes all three keys in one command
func (s *TokenStore) Clear() error {
	if err := s.client.Del(s.ctx, s.accessKey(), s.refreshKey(), s.userKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
