// Package event provides the typed event bus the dispatcher and scheduler
// publish lifecycle events on. The presentation layer subscribes to the bus
// and never calls into dispatcher internals directly.
package event

import (
	"sync"
	"time"

	"github.com/optout-labs/redress/broker"
)

// Type identifies an engine lifecycle event.
type Type string

const (
	// TypeAttemptSubmitted fires when a removal request reaches the broker.
	TypeAttemptSubmitted Type = "attempt:submitted"

	// TypeAttemptFailed fires when an attempt fails.
	TypeAttemptFailed Type = "attempt:failed"

	// TypeAttemptCaptcha fires when an attempt parks on a CAPTCHA.
	TypeAttemptCaptcha Type = "attempt:captcha"

	// TypeAttemptVerified fires when an awaiting attempt is confirmed.
	TypeAttemptVerified Type = "attempt:verified"

	// TypeJobComplete fires when a scheduled job finishes a run.
	TypeJobComplete Type = "scheduler:job_complete"
)

// Event is one lifecycle notification.
type Event struct {
	// Type identifies the event.
	Type Type `json:"type"`

	// AttemptID references the attempt the event concerns, if any.
	AttemptID string `json:"attempt_id,omitempty"`

	// FindingID references the underlying finding, if any.
	FindingID string `json:"finding_id,omitempty"`

	// BrokerID identifies the broker involved, if any.
	BrokerID string `json:"broker_id,omitempty"`

	// Channel is the removal channel involved, if any.
	Channel broker.Channel `json:"channel,omitempty"`

	// Reason carries failure or escalation detail.
	Reason string `json:"reason,omitempty"`

	// Job names the scheduled job for scheduler events.
	Job string `json:"job,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind loses events rather than blocking the dispatcher.
const subscriberBuffer = 64

// Bus is an in-process fan-out event bus.
//
// Thread-safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its receive channel.
// The channel is closed when the bus is closed.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking.
// The timestamp is stamped here if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall
			// attempt processing.
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
