package events

import (
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(TypeCallDialed, map[string]any{"call_id": "c1"})

	select {
	case e := <-ch:
		if e.Type != TypeCallDialed {
			t.Fatalf("expected call_dialed, got %s", e.Type)
		}
		if e.Payload["call_id"] != "c1" {
			t.Fatalf("unexpected payload: %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event delivery")
	}
}

func TestBus_PublishNeverBlocksOnFullBuffer(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Second publish would block on an unbuffered fan-out; it must drop.
		b.Publish(TypeCallDialed, nil)
		b.Publish(TypeCallEnded, nil)
		b.Publish(TypeCampaignAdded, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}
}

func TestBus_CancelUnsubscribes(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after cancel")
	}
	// Double cancel must be safe.
	cancel()
}
