package events

import (
	"sync"
	"time"
)

// Type names one kind of dialer notification.
type Type string

const (
	TypeCampaignAdded     Type = "campaign_added"
	TypeCampaignRemoved   Type = "campaign_removed"
	TypeCampaignCompleted Type = "campaign_completed"
	TypeCallDialed        Type = "call_dialed"
	TypeCallEnded         Type = "call_ended"
	TypeContactDNC        Type = "contact_dnc"
	TypeTransferAcquired  Type = "transfer_acquired"
	TypeTransferDenied    Type = "transfer_denied"
	TypeSystemState       Type = "system_state"
)

// Event is a notification published by an owning component.
// Observers must treat payloads as read-only.
type Event struct {
	Type    Type           `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bus is a channel fan-out from owning components to observers
// (logging, metrics, websocket hub). Publishing never blocks: a subscriber
// that cannot keep up loses events rather than stalling the dispatch loop.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	clock  func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), clock: time.Now}
}

// Subscribe registers an observer with the given channel buffer.
// The returned cancel func unregisters and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(t Type, payload map[string]any) {
	e := Event{Type: t, At: b.clock().UTC(), Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// slow observer; drop
		}
	}
}

// SubscriberCount reports how many observers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
