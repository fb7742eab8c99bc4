package session

import (
	"errors"
	"time"
)

// Session is the authenticated state of the running application. Empty
// strings and a zero ExpiresAt mean "absent".
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // unix seconds, expiry of AccessToken
	UserID       string
}

// Valid reports whether both tokens are present.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Payload is the token response of the auth backend, shared by the password,
// refresh-token and signup-verification exchanges.
type Payload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

func (p *Payload) Session(now time.Time) Session {
	s := Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresAt:    p.ExpiresAt,
	}
	if s.ExpiresAt == 0 && p.ExpiresIn > 0 {
		s.ExpiresAt = now.Unix() + p.ExpiresIn
	}
	if p.User != nil {
		s.UserID = p.User.ID
	}
	return s
}

var (
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrSessionExpired   = errors.New("session: session expired")
	ErrNoSession        = errors.New("session: no stored session")
	ErrCorruptSession   = errors.New("session: stored session is unreadable")
	ErrEmptyPayload     = errors.New("session: empty token payload")
)
