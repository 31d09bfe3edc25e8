//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	tl "github.com/panyam/tokenlife"
)

// TokenStore implements tl.TokenStore using Google Cloud Datastore.
// The whole session is one entity, so Put and Delete replace it as a unit.
type TokenStore struct {
	client    *datastore.Client
	namespace string
	name      string
	ctx       context.Context
}

// NewTokenStore creates a Datastore-backed TokenStore for the session called name
func NewTokenStore(client *datastore.Client, namespace, name string) *TokenStore {
	if name == "" {
		name = tl.DefaultNamespace
	}
	return &TokenStore{
		client:    client,
		namespace: namespace,
		name:      name,
		ctx:       context.Background(),
	}
}

// WithContext returns a copy of the store with the given context
func (s *TokenStore) WithContext(ctx context.Context) *TokenStore {
	return &TokenStore{
		client:    s.client,
		namespace: s.namespace,
		name:      s.name,
		ctx:       ctx,
	}
}

func (s *TokenStore) key() *datastore.Key {
	key := datastore.NameKey(KindSessionTokens, s.name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *TokenStore) load() (*SessionEntity, error) {
	var entity SessionEntity
	if err := s.client.Get(s.ctx, s.key(), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return &SessionEntity{}, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &entity, nil
}

func (s *TokenStore) Save(pair tl.CredentialPair, user *tl.UserProfile) error {
	if !pair.IsComplete() {
		return tl.ErrPartialCredentials
	}
	rawUser, err := tl.MarshalUserProfile(user)
	if err != nil {
		return fmt.Errorf("failed to serialize user: %w", err)
	}
	entity := &SessionEntity{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         rawUser,
		UpdatedAt:    time.Now(),
	}
	if _, err := s.client.Put(s.ctx, s.key(), entity); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *TokenStore) LoadAccess() (string, error) {
	entity, err := s.load()
	if err != nil {
		return "", err
	}
	return entity.AccessToken, nil
}

func (s *TokenStore) LoadRefresh() (string, error) {
	entity, err := s.load()
	if err != nil {
		return "", err
	}
	return entity.RefreshToken, nil
}

// LoadUser returns the stored profile, deleting the entity if the profile is invalid
func (s *TokenStore) LoadUser() (*tl.UserProfile, error) {
	entity, err := s.load()
	if err != nil {
		return nil, err
	}
	return tl.LoadUserOrClear(entity.User, s.Clear, nil)
}

// Clear deletes the session entity. Deleting a missing entity is not an error.
func (s *TokenStore) Clear() error {
	if err := s.client.Delete(s.ctx, s.key()); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
