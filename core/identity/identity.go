package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated reports a missing or invalid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the resolved identity behind a credential.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// DisplayName renders the name shown to other editors.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.ID
	}
	return name
}

// Verifier checks a credential against the host identity provider.
type Verifier interface {
	// VerifyToken resolves a credential to a user. An invalid or empty
	// token yields ErrUnauthenticated; other errors are transport
	// failures.
	VerifyToken(ctx context.Context, token string) (*User, error)
}

// Directory resolves user ids to profile data for display. Lookup returns
// (nil, nil) when the user is unknown.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}
