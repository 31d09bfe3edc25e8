// Package client provides the HTTP side of tokenlife: a client for the auth
// endpoints, a RoundTripper that authorizes requests and recovers once from a
// 401, and a Client bundling both around a Manager.
package client

import (
	"errors"

	tl "github.com/panyam/tokenlife"
)

var (
	// ErrLoginRejected is returned when the server refuses the login
	ErrLoginRejected = errors.New("login rejected")

	// ErrRefreshRejected is returned when the server refuses the refresh token
	ErrRefreshRejected = errors.New("refresh rejected")
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body returned by POST /auth/login
type LoginResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	User         *tl.UserProfile `json:"user"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the body returned by POST /auth/refresh.
// RefreshToken is empty when the server does not rotate it.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// ErrorResponse is the error body of both endpoints
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// LoginResult is a successful login
type LoginResult struct {
	Pair tl.CredentialPair
	User *tl.UserProfile
}
