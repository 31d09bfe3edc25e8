//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	tl "github.com/panyam/tokenlife"
)

// AutoMigrate runs database migrations for the session table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionTokenModel{})
}

// TokenStore implements tl.TokenStore using GORM
type TokenStore struct {
	db        *gorm.DB
	namespace string
}

// NewTokenStore creates a store for namespace (tl.DefaultNamespace if empty)
func NewTokenStore(db *gorm.DB, namespace string) *TokenStore {
	if namespace == "" {
		namespace = tl.DefaultNamespace
	}
	return &TokenStore{db: db, namespace: namespace}
}

func (s *TokenStore) load() (*SessionTokenModel, error) {
	var model SessionTokenModel
	err := s.db.First(&model, "namespace = ?", s.namespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &SessionTokenModel{Namespace: s.namespace}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &model, nil
}

// Save upserts the session row
func (s *TokenStore) Save(pair tl.CredentialPair, user *tl.UserProfile) error {
	if !pair.IsComplete() {
		return tl.ErrPartialCredentials
	}
	rawUser, err := tl.MarshalUserProfile(user)
	if err != nil {
		return fmt.Errorf("failed to serialize user: %w", err)
	}
	model := &SessionTokenModel{
		Namespace:    s.namespace,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         JSONText(rawUser),
	}
	if err := s.db.Save(model).Error; err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *TokenStore) LoadAccess() (string, error) {
	model, err := s.load()
	if err != nil {
		return "", err
	}
	return model.AccessToken, nil
}

func (s *TokenStore) LoadRefresh() (string, error) {
	model, err := s.load()
	if err != nil {
		return "", err
	}
	return model.RefreshToken, nil
}

// LoadUser returns the stored profile, deleting the row if the profile is invalid
func (s *TokenStore) LoadUser() (*tl.UserProfile, error) {
	model, err := s.load()
	if err != nil {
		return nil, err
	}
	return tl.LoadUserOrClear(model.User, s.Clear, nil)
}

// Clear deletes the session row
func (s *TokenStore) Clear() error {
	if err := s.db.Delete(&SessionTokenModel{}, "namespace = ?", s.namespace).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
