package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/recordlock/recordlock/core/infra/logging"
	"github.com/recordlock/recordlock/core/infra/metrics"
	"github.com/recordlock/recordlock/core/infra/store"
	"github.com/recordlock/recordlock/core/permissions"
)

const component = "coordinator"

// NewInstanceSentinel marks a record that has not been saved yet. Such
// records cannot be locked; the admin UI sends it while a draft is open.
const NewInstanceSentinel = "create"

// ErrInvalid reports missing or malformed identifiers.
var ErrInvalid = errors.New("invalid lock request")

// Reason explains a denied acquisition.
type Reason string

const (
	ReasonNotApplicable Reason = "not-applicable"
	ReasonForbidden     Reason = "forbidden"
	ReasonLocked        Reason = "locked"
	ReasonUnknownHolder Reason = "unknown-concurrent"
)

// Decision is the outcome of an acquire attempt. Holder is set when the
// denial names the current lock holder.
type Decision struct {
	Granted bool
	Reason  Reason
	Holder  string
}

// Events receives lock-state changes originating from realtime
// connections. Origin is the connection that caused the change; sinks
// must not echo the event back to it.
type Events interface {
	EntityLocked(resource, instance, origin string)
	EntityUnlocked(resource, instance, origin string)
}

// Coordinator is the single writer of lock state. The store's atomic
// create-if-absent is the per-pair exclusion mechanism, so concurrent
// acquires for one pair cannot both succeed.
type Coordinator struct {
	store   store.Store
	gate    permissions.Gate
	events  Events
	metrics metrics.LockMetrics
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithEvents attaches an event sink for realtime broadcasts.
func WithEvents(events Events) Option {
	return func(c *Coordinator) { c.events = events }
}

// WithMetrics attaches lock metrics.
func WithMetrics(m metrics.LockMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func New(s store.Store, gate permissions.Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   s,
		gate:    gate,
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetEvents attaches the event sink after construction; the realtime
// channel needs the coordinator first, so the wiring is two-phase.
func (c *Coordinator) SetEvents(events Events) {
	c.events = events
}

// Acquire attempts to lock (resource, instance) for the user. The
// connectionID is empty for Request-API locks.
func (c *Coordinator) Acquire(ctx context.Context, userID, resource, instance, connectionID string) (Decision, error) {
	if userID == "" || resource == "" || instance == "" {
		return Decision{}, ErrInvalid
	}
	if instance == NewInstanceSentinel {
		c.metrics.IncDenied(resource, string(ReasonNotApplicable))
		return Decision{Reason: ReasonNotApplicable}, nil
	}

	allowed, err := c.gate.CanLock(ctx, userID, resource)
	if err != nil {
		// Fail closed: an unreachable authorization engine is a denial.
		logging.Error(component, "permission query failed", "user", userID, "resource", resource, "error", err)
		c.metrics.IncDenied(resource, string(ReasonForbidden))
		return Decision{Reason: ReasonForbidden}, nil
	}
	if !allowed {
		logging.Warn(component, "lock forbidden", "user", userID, "resource", resource, "instance", instance)
		c.metrics.IncDenied(resource, string(ReasonForbidden))
		return Decision{Reason: ReasonForbidden}, nil
	}

	_, err = c.store.Create(ctx, store.Lock{
		Resource:     resource,
		Instance:     instance,
		Owner:        userID,
		ConnectionID: connectionID,
	})
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			if conflict.Holder == userID {
				// Re-entrant open (e.g. reconnect) is idempotent success.
				c.announceLocked(resource, instance, connectionID)
				return Decision{Granted: true}, nil
			}
			reason := ReasonLocked
			if conflict.Holder == "" {
				reason = ReasonUnknownHolder
			}
			c.metrics.IncDenied(resource, string(reason))
			return Decision{Reason: reason, Holder: conflict.Holder}, nil
		}
		logging.Error(component, "lock create failed", "user", userID, "resource", resource, "instance", instance, "error", err)
		return Decision{}, fmt.Errorf("create lock: %w", err)
	}

	c.metrics.IncAcquired(resource)
	c.announceLocked(resource, instance, connectionID)
	return Decision{Granted: true}, nil
}

// Release removes the user's lock on the pair. Releasing a lock that does
// not exist is a no-op, not an error; released reports whether anything
// was removed.
func (c *Coordinator) Release(ctx context.Context, userID, resource, instance, connectionID string) (bool, error) {
	if userID == "" || resource == "" || instance == "" {
		return false, ErrInvalid
	}
	count, err := c.store.DeleteByOwner(ctx, userID, resource, instance)
	if err != nil {
		logging.Error(component, "lock delete failed", "user", userID, "resource", resource, "instance", instance, "error", err)
		return false, fmt.Errorf("delete lock: %w", err)
	}
	if count == 0 {
		return false, nil
	}
	c.metrics.IncReleased(resource, "explicit")
	if connectionID != "" && c.events != nil {
		c.events.EntityUnlocked(resource, instance, connectionID)
	}
	return true, nil
}

// ReleaseByConnection removes every lock held through the connection and
// announces each release. Invoked on disconnect; the count is
// diagnostics only.
func (c *Coordinator) ReleaseByConnection(ctx context.Context, connectionID string) (int, error) {
	if connectionID == "" {
		return 0, ErrInvalid
	}
	removed, err := c.store.DeleteByConnection(ctx, connectionID)
	if err != nil {
		logging.Error(component, "disconnect cleanup failed", "connection", connectionID, "error", err)
		return 0, fmt.Errorf("delete by connection: %w", err)
	}
	for _, lock := range removed {
		c.metrics.IncReleased(lock.Resource, "disconnect")
		if c.events != nil {
			c.events.EntityUnlocked(lock.Resource, lock.Instance, connectionID)
		}
	}
	return len(removed), nil
}

// PurgeAll wipes every lock. Runs once at startup before the channel
// accepts connections, and again at shutdown; stale locks reference dead
// connections and must not survive a restart.
func (c *Coordinator) PurgeAll(ctx context.Context) (int, error) {
	count, err := c.store.DeleteAll(ctx)
	if err != nil {
		logging.Error(component, "purge failed", "error", err)
		return 0, fmt.Errorf("purge locks: %w", err)
	}
	if count > 0 {
		logging.Info(component, "purged stale locks", "count", count)
	}
	return count, nil
}

// QueryStatus returns the lock held by someone other than the viewer for
// the resource (and instance, when given), or nil.
func (c *Coordinator) QueryStatus(ctx context.Context, viewerID, resource, instance string) (*store.Lock, error) {
	if resource == "" {
		return nil, ErrInvalid
	}
	lock, err := c.store.Find(ctx, store.FindQuery{
		Resource:     resource,
		Instance:     instance,
		ExcludeOwner: viewerID,
	})
	if err != nil {
		logging.Error(component, "status query failed", "viewer", viewerID, "resource", resource, "instance", instance, "error", err)
		return nil, fmt.Errorf("find lock: %w", err)
	}
	return lock, nil
}

func (c *Coordinator) announceLocked(resource, instance, origin string) {
	if origin != "" && c.events != nil {
		c.events.EntityLocked(resource, instance, origin)
	}
}
