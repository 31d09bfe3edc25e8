// Package authtest provides an in-process auth server that issues real signed
// JWTs with short lifetimes. It backs the client tests and the demo.
package authtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// User is the profile returned by the login endpoint
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type tokenClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Server is a minimal login/refresh server plus one protected endpoint
type Server struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now is the server's clock; defaults to time.Now
	Now func() time.Time

	// BeforeRefresh runs at the start of every refresh request
	BeforeRefresh func(r *http.Request)

	// KeepRefreshToken makes refresh responses omit the refresh token
	KeepRefreshToken bool

	rejectRefresh atomic.Bool
	refreshCalls  atomic.Int32
	loginCalls    atomic.Int32

	mu      sync.Mutex
	users   map[string]string
	revoked map[string]bool

	router *mux.Router
}

// NewServer creates a server with the given users (username -> password)
func NewServer(users map[string]string) *Server {
	s := &Server{
		Secret:     []byte("authtest-secret"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        time.Now,
		users:      make(map[string]string),
		revoked:    make(map[string]bool),
	}
	for u, p := range users {
		s.users[u] = p
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/me", s.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/api/echo", s.handleEcho).Methods(http.MethodPost)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RejectRefresh makes subsequent refresh requests fail with 401
func (s *Server) RejectRefresh(reject bool) {
	s.rejectRefresh.Store(reject)
}

// RefreshCalls returns the number of refresh requests served
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// LoginCalls returns the number of login requests served
func (s *Server) LoginCalls() int {
	return int(s.loginCalls.Load())
}

// NewToken signs an HS256 token for subject expiring at exp
func NewToken(secret []byte, subject, kind string, exp time.Time) string {
	claims := tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic(fmt.Sprintf("authtest: signing token: %v", err))
	}
	return signed
}

// IssuePair signs an access/refresh pair for subject using the server's TTLs
func (s *Server) IssuePair(subject string) (access, refresh string) {
	now := s.Now()
	access = NewToken(s.Secret, subject, kindAccess, now.Add(s.AccessTTL))
	refresh = NewToken(s.Secret, subject, kindRefresh, now.Add(s.RefreshTTL))
	return access, refresh
}

func (s *Server) parse(token, kind string) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, errors.New("wrong token kind")
	}
	return &claims, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	s.mu.Lock()
	password, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid credentials")
		return
	}

	access, refresh := s.IssuePair(req.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user": User{
			ID:       "user-" + req.Username,
			Username: req.Username,
			Email:    req.Username + "@example.com",
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.BeforeRefresh != nil {
		s.BeforeRefresh(r)
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Refresh token required")
		return
	}
	if s.rejectRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Refresh rejected")
		return
	}

	claims, err := s.parse(req.RefreshToken, kindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid refresh token")
		return
	}

	s.mu.Lock()
	if s.revoked[claims.ID] {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Refresh token reused")
		return
	}
	if !s.KeepRefreshToken {
		s.revoked[claims.ID] = true
	}
	s.mu.Unlock()

	now := s.Now()
	resp := map[string]any{
		"accessToken": NewToken(s.Secret, claims.Subject, kindAccess, now.Add(s.AccessTTL)),
	}
	if !s.KeepRefreshToken {
		resp["refreshToken"] = NewToken(s.Secret, claims.Subject, kindRefresh, now.Add(s.RefreshTTL))
	}
	slog.Debug("authtest: refreshed", "subject", claims.Subject)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (*tokenClaims, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
		return nil, false
	}
	claims, err := s.parse(token, kindAccess)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid access token")
		return nil, false
	}
	return claims, true
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": claims.Subject})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
