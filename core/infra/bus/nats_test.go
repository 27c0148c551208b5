package bus

import (
	"errors"
	"testing"
)

func TestPublishValidation(t *testing.T) {
	b := &NatsTap{}
	if err := b.Publish(LockEvent{Resource: "r", Instance: "1"}); !errors.Is(err, errEmptyEvent) {
		t.Fatalf("expected empty event error, got %v", err)
	}
	if err := b.Publish(LockEvent{Type: EventLocked}); !errors.Is(err, errEmptyFields) {
		t.Fatalf("expected empty fields error, got %v", err)
	}
}

func TestPublishNilBus(t *testing.T) {
	var b *NatsTap
	if err := b.Publish(LockEvent{Type: EventUnlocked, Resource: "r", Instance: "1"}); !errors.Is(err, errNilBus) {
		t.Fatalf("expected nil bus error, got %v", err)
	}
}
