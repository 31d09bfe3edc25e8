package tokenlife

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// CredentialPair is the access/refresh token pair held for a session.
// Both tokens are present or both are absent.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero returns true if neither token is set
func (p CredentialPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// IsComplete returns true if both tokens are set
func (p CredentialPair) IsComplete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// UserProfile is the cached profile of the logged in user
type UserProfile struct {
	ID          string   `json:"id" validate:"required"`
	Username    string   `json:"username" validate:"required"`
	Email       string   `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName string   `json:"displayName,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func profileValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks that the profile carries its required fields
func (u *UserProfile) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if err := profileValidator().Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

// ParseUserProfile decodes and validates a serialized profile.
// Stores use it in LoadUser and clear themselves when it fails.
func ParseUserProfile(data []byte) (*UserProfile, error) {
	var u UserProfile
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

// MarshalUserProfile serializes a profile for storage. A nil profile encodes as nil.
func MarshalUserProfile(u *UserProfile) ([]byte, error) {
	if u == nil {
		return nil, nil
	}
	return json.Marshal(u)
}

// TokenInfo is derived from the held pair and the current time on every call
type TokenInfo struct {
	AccessValid     bool
	RefreshValid    bool
	AccessTimeLeft  time.Duration
	RefreshTimeLeft time.Duration
}

// Session is the client's view of whether it is logged in
type Session struct {
	IsAuthenticated bool
	User            *UserProfile
}

// NotificationFlags record which one-shot warnings were shown for the current
// token generation. They reset whenever the pair changes.
type NotificationFlags struct {
	AccessWarningShown  bool
	RefreshWarningShown bool
}

// WarningKind selects a bit of NotificationFlags
type WarningKind int

const (
	AccessWarning WarningKind = iota
	RefreshWarning
)

// State is the session level state machine
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
