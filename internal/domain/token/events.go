package token

import "time"

// EventKind names a token state transition.
type EventKind string

const (
	EventAcquired    EventKind = "acquired"
	EventRestored    EventKind = "restored"
	EventInvalidated EventKind = "invalidated"
	EventDiscarded   EventKind = "discarded"
	EventManual      EventKind = "manual"
)

// Event is delivered to subscribers after every transition. The bearer value
// itself is never included.
type Event struct {
	Kind      EventKind `json:"kind"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	IsValid   bool      `json:"is_valid"`
	At        time.Time `json:"at"`
}

// Subscribe registers a listener. Events are dropped for a subscriber whose
// buffer is full. The returned func unsubscribes and closes the channel.
func (c *Cache) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once bool
	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(c.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (c *Cache) emit(kind EventKind, st Status) {
	ev := Event{
		Kind:      kind,
		ExpiresAt: st.ExpiresAt,
		IsValid:   st.IsValid,
		At:        c.now(),
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
