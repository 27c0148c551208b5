package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConflict reports that a lock already exists for the requested
// resource/instance pair. Match with errors.Is; the concrete
// *ConflictError carries the current holder when known.
var ErrConflict = errors.New("lock conflict")

// ConflictError is returned by Create when the pair is already locked.
type ConflictError struct {
	Holder string
}

func (e *ConflictError) Error() string {
	if e.Holder == "" {
		return "lock conflict"
	}
	return fmt.Sprintf("lock conflict: held by %s", e.Holder)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Lock is an advisory exclusivity record for one resource instance.
type Lock struct {
	Resource     string    `json:"resource"`
	Instance     string    `json:"instance"`
	Owner        string    `json:"owner"`
	ConnectionID string    `json:"connection_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FindQuery selects at most one lock. Instance narrows to a single pair;
// ExcludeOwner skips locks held by that user.
type FindQuery struct {
	Resource     string
	Instance     string
	ExcludeOwner string
}

// Store persists open locks. Every call reflects current persisted state;
// implementations must not cache.
type Store interface {
	Find(ctx context.Context, q FindQuery) (*Lock, error)
	// Create inserts the lock atomically with the existence check. A
	// *ConflictError (errors.Is ErrConflict) signals the pair is taken.
	Create(ctx context.Context, lock Lock) (*Lock, error)
	DeleteByOwner(ctx context.Context, owner, resource, instance string) (int, error)
	// DeleteByConnection removes every lock created by the connection and
	// returns the removed locks so callers can announce each release.
	DeleteByConnection(ctx context.Context, connectionID string) ([]Lock, error)
	DeleteAll(ctx context.Context) (int, error)
	Close() error
}
