package tokenlife

import "errors"

var (
	// ErrPartialCredentials is returned when a pair is missing one of its tokens.
	// Stores never persist half a pair.
	ErrPartialCredentials = errors.New("credential pair must carry both access and refresh token")

	// ErrInvalidProfile is returned when a stored user profile fails shape validation
	ErrInvalidProfile = errors.New("invalid user profile")

	// ErrNoRefreshToken is returned when a renewal is attempted without a refresh token
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshTimeout marks a renewal that did not settle within the refresh timeout
	ErrRefreshTimeout = errors.New("token refresh timed out")

	// ErrStaleCompletion marks a renewal that settled after the session it started
	// from was cleared or replaced. Its result is discarded.
	ErrStaleCompletion = errors.New("token refresh completed for a stale generation")

	// ErrMonitorRunning is returned by Monitor.Start when the monitor is already running
	ErrMonitorRunning = errors.New("expiry monitor already running")

	// ErrNotAuthenticated is returned when no usable pair is held
	ErrNotAuthenticated = errors.New("no valid session")

	// ErrInvalidConfig wraps configuration validation failures
	ErrInvalidConfig = errors.New("invalid configuration")
)
