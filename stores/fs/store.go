// Package fs provides a file system-based TokenStore.
//
// The pair and the profile live in one JSON file written with owner-only
// permissions and replaced atomically, so a reader sees either the previous
// or the new session, never a mix. The file can optionally be sealed with
// XChaCha20-Poly1305.
package fs

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	tl "github.com/panyam/tokenlife"
)

// ErrCorruptFile is logged when the session file cannot be decoded; the file is removed
var ErrCorruptFile = errors.New("corrupt session file")

// FSTokenStore stores the session as a single file
type FSTokenStore struct {
	mu     sync.Mutex
	path   string
	aead   cipher.AEAD
	logger *slog.Logger
}

// sessionFile is the JSON structure stored on disk
type sessionFile struct {
	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// Option configures an FSTokenStore
type Option func(*FSTokenStore) error

// WithEncryptionKey seals the file with XChaCha20-Poly1305 under a 32 byte key
func WithEncryptionKey(key []byte) Option {
	return func(s *FSTokenStore) error {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %w", err)
		}
		s.aead = aead
		return nil
	}
}

// WithLogger sets the logger used for corruption warnings
func WithLogger(logger *slog.Logger) Option {
	return func(s *FSTokenStore) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// NewFSTokenStore creates a new FS-based token store.
// If path is empty, defaults to ~/.config/<appName>/session.json
func NewFSTokenStore(path string, appName string, opts ...Option) (*FSTokenStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = tl.DefaultNamespace
		}
		path = filepath.Join(configDir, appName, "session.json")
	}

	s := &FSTokenStore{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the path to the session file
func (s *FSTokenStore) Path() string {
	return s.path
}

// read loads the file. A missing file is an empty session; an undecodable
// one is removed and treated as empty.
func (s *FSTokenStore) read() (sessionFile, error) {
	var file sessionFile

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("failed to read session file: %w", err)
	}

	if s.aead != nil {
		data, err = s.open(data)
		if err != nil {
			return file, s.discard(err)
		}
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return sessionFile{}, s.discard(err)
	}
	if file.AccessToken == "" || file.RefreshToken == "" {
		if file.AccessToken != "" || file.RefreshToken != "" || len(file.User) > 0 {
			return sessionFile{}, s.discard(tl.ErrPartialCredentials)
		}
	}
	return file, nil
}

func (s *FSTokenStore) discard(cause error) error {
	s.logger.Warn("session file is corrupt, removing it", "path", s.path, "error", fmt.Errorf("%w: %v", ErrCorruptFile, cause))
	return s.remove()
}

func (s *FSTokenStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *FSTokenStore) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *FSTokenStore) open(sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// Save writes the pair and profile
func (s *FSTokenStore) Save(pair tl.CredentialPair, user *tl.UserProfile) error {
	if !pair.IsComplete() {
		return tl.ErrPartialCredentials
	}
	rawUser, err := tl.MarshalUserProfile(user)
	if err != nil {
		return fmt.Errorf("failed to serialize user: %w", err)
	}

	data, err := json.MarshalIndent(sessionFile{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         rawUser,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if s.aead != nil {
		if data, err = s.seal(data); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure directory exists with restricted permissions
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeAtomicFile(s.path, data, 0600)
}

// LoadAccess returns the stored access token
func (s *FSTokenStore) LoadAccess() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	return file.AccessToken, err
}

// LoadRefresh returns the stored refresh token
func (s *FSTokenStore) LoadRefresh() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	return file.RefreshToken, err
}

// LoadUser returns the stored profile, clearing the file if it is invalid
func (s *FSTokenStore) LoadUser() (*tl.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.read()
	if err != nil {
		return nil, err
	}
	return tl.LoadUserOrClear(file.User, s.remove, s.logger)
}

// Clear removes the session file
func (s *FSTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove()
}
