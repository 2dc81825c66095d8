package sessions

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/atriumn/idynic-web-sub000/oauthmodel"
	"github.com/atriumn/idynic-web-sub000/users"
)

// Session is the client's authentication record. A Session is treated as an
// immutable value: every change produces a new Session that replaces the stored
// one as a whole.
type Session struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token,omitempty"`
	IDToken      string              `json:"id_token,omitempty"`
	User         *users.User         `json:"user,omitempty"`
	Provider     oauthmodel.Provider `json:"provider,omitempty"`
	IssuedAt     time.Time           `json:"issued_at"`
	ExpiresIn    time.Duration       `json:"lifetime"`
}

// New builds a session from a token response received at issuedAt.
func New(tr oauthmodel.TokenResponse, issuedAt time.Time) *Session {
	return &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.GetRefreshToken(),
		IDToken:      tr.GetIdToken(),
		IssuedAt:     issuedAt,
		ExpiresIn:    tr.Lifetime(),
	}
}

// Renewed builds the session that replaces s after a refresh. The refresh token
// is carried over when the response does not rotate it, as are the derived user
// and provider.
func (s *Session) Renewed(tr oauthmodel.TokenResponse, issuedAt time.Time) *Session {
	next := New(tr, issuedAt)
	if next.RefreshToken == "" {
		next.RefreshToken = s.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = s.IDToken
	}
	next.User = s.User.Clone()
	next.Provider = s.Provider
	return next
}

// ExpiresAt is the nominal expiry of the access token. The zero time means the
// lifetime is unknown.
func (s *Session) ExpiresAt() time.Time {
	if s.ExpiresIn <= 0 {
		return time.Time{}
	}
	return s.IssuedAt.Add(s.ExpiresIn)
}

// RenewAt is the instant at which ratio of the lifetime has elapsed.
func (s *Session) RenewAt(ratio float64) time.Time {
	if s.ExpiresIn <= 0 {
		return time.Time{}
	}
	return s.IssuedAt.Add(time.Duration(float64(s.ExpiresIn) * ratio))
}

func (s *Session) Expired(now time.Time) bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

func (s *Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// WithUser returns a copy of s carrying u.
func (s *Session) WithUser(u *users.User) *Session {
	c := s.Clone()
	c.User = u.Clone()
	return c
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

// Token converts the session to an oauth2.Token. The identity token is exposed
// as the "id_token" extra.
func (s *Session) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt(),
	}
	if s.IDToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": s.IDToken})
	}
	return tok
}
