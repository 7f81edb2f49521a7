// Package session tracks the authenticated user and the limits attached
// to their plan.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session answers the two questions every coordinator asks before
// touching the remote side: is anyone signed in, and may they sync more
// notes.
type Session interface {
	IsAuthorized() bool
	UserID() string
	Token() string
	// CanSyncNewNotes reports whether the plan allows syncing given the
	// current number of active notes.
	CanSyncNewNotes(activeNotes int64) bool
}

type claims struct {
	MaxNotes int64 `json:"maxNotes"`
	jwt.RegisteredClaims
}

// TokenSession derives its state from a JWT issued by the account
// service. A zero value is a signed-out session.
type TokenSession struct {
	mu       sync.RWMutex
	token    string
	userID   string
	maxNotes int64
	expires  time.Time
}

func NewTokenSession() *TokenSession {
	return &TokenSession{}
}

// SetToken parses and installs a new access token. The signature is the
// server's concern; locally only the claims are read.
func (s *TokenSession) SetToken(token string) error {
	var c claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return fmt.Errorf("failed to parse access token: %w", err)
	}
	if c.Subject == "" {
		return fmt.Errorf("access token carries no subject")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.userID = c.Subject
	s.maxNotes = c.MaxNotes
	if c.ExpiresAt != nil {
		s.expires = c.ExpiresAt.Time
	} else {
		s.expires = time.Time{}
	}
	return nil
}

// Clear signs the session out.
func (s *TokenSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userID = ""
	s.maxNotes = 0
	s.expires = time.Time{}
}

func (s *TokenSession) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return s.expires.IsZero() || time.Now().Before(s.expires)
}

func (s *TokenSession) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *TokenSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// CanSyncNewNotes applies the plan quota. Zero MaxNotes means unlimited.
func (s *TokenSession) CanSyncNewNotes(activeNotes int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return s.maxNotes == 0 || activeNotes < s.maxNotes
}
