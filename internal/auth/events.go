package auth

import (
	"context"
	"sync"

	"github.com/glimpse/backend/internal/logging"
)

// EventKind names an identity event.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is delivered to subscribers on sign-in and sign-out. Sign-out events
// only carry the user id.
type Event struct {
	Kind        EventKind
	UserID      string
	Email       string
	DisplayName string
	AvatarURL   string
}

type eventBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; slow subscribers miss events.
func (b *eventBus) publish(ctx context.Context, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			logging.FromContext(ctx).Warn("identity event dropped", "subscriber", id, "kind", event.Kind, "userId", event.UserID)
		}
	}
}
