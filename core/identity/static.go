package identity

import (
	"context"
	"strings"
	"sync"
)

// Static is an in-memory Verifier and Directory for development and tests.
type Static struct {
	mu     sync.RWMutex
	tokens map[string]User
	users  map[string]User
}

func NewStatic() *Static {
	return &Static{
		tokens: make(map[string]User),
		users:  make(map[string]User),
	}
}

// AddUser registers a user and the token that authenticates as them.
func (s *Static) AddUser(token string, user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		s.tokens[token] = user
	}
	s.users[user.ID] = user
}

func (s *Static) VerifyToken(_ context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.tokens[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	out := user
	return &out, nil
}

func (s *Static) Lookup(_ context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	out := user
	return &out, nil
}
