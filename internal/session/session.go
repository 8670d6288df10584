// Package session carries the authenticated operator explicitly through the capture and
// gateway layers instead of an ambient global store.
package session

import "sync"

// Session holds the signed-in operator and the company they capture readings for
type Session struct {
	mu       sync.RWMutex
	operator string
	company  int
	token    string
}

// New creates a session
func New(operator string, company int, token string) *Session {
	return &Session{operator: operator, company: company, token: token}
}

// Operator returns the operator name stamped on captured readings
func (s *Session) Operator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

// Company returns the owning company id
func (s *Session) Company() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.company
}

// Token returns the bearer token for API calls
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a token is present
func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Refresh replaces the credentials after a new login
func (s *Session) Refresh(operator string, company int, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operator = operator
	s.company = company
	s.token = token
}
