package bus

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// LockEvent is the wire form of a lock-state change published for
// out-of-process observers (audit trails, dashboards). The coordinating
// process remains the only writer of lock state; subscribers are
// read-only.
type LockEvent struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	Instance string `json:"instance"`
	At       int64  `json:"at"`
}

const (
	EventLocked   = "entityLocked"
	EventUnlocked = "entityUnlocked"
)

var (
	errNilBus      = errors.New("nats bus not initialized")
	errEmptyEvent  = errors.New("empty event type")
	errEmptyFields = errors.New("resource and instance required")
)

// NatsTap publishes lock events to a NATS subject.
type NatsTap struct {
	nc      *nats.Conn
	subject string
}

// NewNatsTap dials NATS at the provided URL.
func NewNatsTap(url, subject string) (*NatsTap, error) {
	opts := []nats.Option{
		nats.Name("recordlock-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsTap{nc: nc, subject: subject}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsTap) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// EntityLocked publishes a lock event; the origin connection is not part
// of the wire form.
func (b *NatsTap) EntityLocked(resource, instance, _ string) {
	if err := b.Publish(LockEvent{Type: EventLocked, Resource: resource, Instance: instance}); err != nil {
		log.Printf("[BUS] publish %s failed: %v", EventLocked, err)
	}
}

// EntityUnlocked publishes an unlock event.
func (b *NatsTap) EntityUnlocked(resource, instance, _ string) {
	if err := b.Publish(LockEvent{Type: EventUnlocked, Resource: resource, Instance: instance}); err != nil {
		log.Printf("[BUS] publish %s failed: %v", EventUnlocked, err)
	}
}

// Publish sends a JSON-encoded lock event on the configured subject.
func (b *NatsTap) Publish(event LockEvent) error {
	if event.Type == "" {
		return errEmptyEvent
	}
	if event.Resource == "" || event.Instance == "" {
		return errEmptyFields
	}
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if event.At == 0 {
		event.At = time.Now().UTC().Unix()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}
