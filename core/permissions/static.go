package permissions

import (
	"context"
	"sync"
)

// Static is an in-memory gate for development and tests. Grants are keyed
// by user and resource; users registered with AllowAll may lock anything.
type Static struct {
	mu       sync.RWMutex
	grants   map[string]map[string]bool
	allowAll map[string]bool
	fail     error
}

func NewStatic() *Static {
	return &Static{
		grants:   make(map[string]map[string]bool),
		allowAll: make(map[string]bool),
	}
}

// Allow grants the user lock rights on one resource.
func (s *Static) Allow(userID, resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[userID] == nil {
		s.grants[userID] = make(map[string]bool)
	}
	s.grants[userID][resource] = true
}

// AllowAll grants the user lock rights on every resource.
func (s *Static) AllowAll(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowAll[userID] = true
}

// FailWith makes every query return the given error, for exercising the
// fail-closed path.
func (s *Static) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Static) CanLock(_ context.Context, userID, resource string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return false, s.fail
	}
	if s.allowAll[userID] {
		return true, nil
	}
	return s.grants[userID][resource], nil
}
