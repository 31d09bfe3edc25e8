package tokenlife

import "log/slog"

// DefaultNamespace prefixes the persisted entries when no namespace is configured
const DefaultNamespace = "tokenlife"

// TokenStore persists the credential pair and the cached user profile.
// Only the Manager writes to it.
type TokenStore interface {
	// Save persists the pair and profile. Incomplete pairs are rejected with ErrPartialCredentials.
	// A nil user removes any stored profile.
	Save(pair CredentialPair, user *UserProfile) error

	// LoadAccess returns the stored access token or "" if none
	LoadAccess() (string, error)

	// LoadRefresh returns the stored refresh token or "" if none
	LoadRefresh() (string, error)

	// LoadUser returns the stored profile, or nil if none.
	// A profile that fails validation clears the store and yields nil, nil.
	LoadUser() (*UserProfile, error)

	// Clear removes the access token, refresh token and profile together. Idempotent.
	Clear() error
}

// LoadUserOrClear parses a raw stored profile for store implementations.
// Empty input means no profile. On a parse or validation failure it logs to
// logger (slog.Default if nil), calls clear and returns nil without an error.
func LoadUserOrClear(raw []byte, clear func() error, logger *slog.Logger) (*UserProfile, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	user, err := ParseUserProfile(raw)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("stored user profile is corrupt, clearing session", "error", err)
		if clearErr := clear(); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	return user, nil
}
