package tokenlife

import (
	"context"

	"golang.org/x/oauth2"
)

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

// TokenSource adapts the manager to oauth2.TokenSource so it can drive
// oauth2.Transport or any library that accepts a token source. An expired
// access token is renewed through Refresh first.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	if !s.m.IsValid() {
		if s.m.Credentials().IsZero() || !s.m.Refresh(s.ctx) {
			return nil, ErrNotAuthenticated
		}
	}

	pair := s.m.Credentials()
	claims := Decode(pair.AccessToken)
	if !claims.Valid {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: pair.RefreshToken,
		Expiry:       claims.ExpiresAt,
	}, nil
}
