// Package notify pushes session-status events to whichever front-end opened
// the session. Delivery is at most once and best effort: a disconnected
// subscriber misses events and polls the session store to catch up.
package notify

import (
	"sync"
	"time"
)

// eventChannelBuffer is the per-subscription buffer; slow consumers drop
// events rather than block publishers.
const eventChannelBuffer = 16

// Event is a single real-time message for a session channel.
type Event struct {
	Type    string `json:"type"` // "status_update" or "error"
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// StatusUpdate builds the wire event for a session status change.
func StatusUpdate(status, message string) Event {
	return Event{Type: "status_update", Status: status, Message: message}
}

// ErrorEvent builds the wire event for a user-visible failure.
func ErrorEvent(message string) Event {
	return Event{Type: "error", Message: message}
}

// Subscription is one live listener on a session channel.
type Subscription struct {
	C         chan Event
	sessionID string
	closed    bool // guarded by the broker mutex
}

// Broker fans session events out to subscribers. One logical channel per
// session id.
type Broker struct {
	mu    sync.RWMutex
	subs  map[string][]*Subscription
	grace time.Duration
}

// NewBroker creates an empty broker. grace is how long subscriptions outlive
// a terminal event before the channel is torn down.
func NewBroker(grace time.Duration) *Broker {
	return &Broker{
		subs:  make(map[string][]*Subscription),
		grace: grace,
	}
}

// Subscribe registers a listener for a session's events.
func (b *Broker) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		C:         make(chan Event, eventChannelBuffer),
		sessionID: sessionID,
	}
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	return sub
}

// Unsubscribe releases a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

func (b *Broker) removeLocked(sub *Subscription) {
	subs := b.subs[sub.sessionID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.sessionID] = append(subs[:i], subs[i+1:]...)
			if !s.closed {
				s.closed = true
				close(s.C)
			}
			break
		}
	}
	if len(b.subs[sub.sessionID]) == 0 {
		delete(b.subs, sub.sessionID)
	}
}

// Publish delivers an event to all current subscribers of the session.
// Non-blocking: a subscriber with a full buffer misses the event.
func (b *Broker) Publish(sessionID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[sessionID] {
		select {
		case sub.C <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// CloseSession publishes a final event and schedules teardown of all the
// session's subscriptions after the grace period.
func (b *Broker) CloseSession(sessionID string, final Event) {
	b.Publish(sessionID, final)

	time.AfterFunc(b.grace, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, sub := range b.subs[sessionID] {
			if !sub.closed {
				sub.closed = true
				close(sub.C)
			}
		}
		delete(b.subs, sessionID)
	})
}

// SubscriberCount returns the number of live subscriptions for a session.
func (b *Broker) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
