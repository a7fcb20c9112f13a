// Package events provides event types and publishing infrastructure for
// jeeves. The orchestrator and the issue-directory watcher publish here;
// WebSocket observers subscribe per issue or globally.
package events

import (
	"sync"
	"time"
)

// Type defines the type of event.
type Type string

const (
	// EventState indicates a run/issue state snapshot changed.
	EventState Type = "state"
	// EventLogs carries new log tail lines.
	EventLogs Type = "logs"
	// EventIteration indicates an iteration started or finished.
	EventIteration Type = "iteration"
	// EventTransition indicates a phase transition was taken.
	EventTransition Type = "transition"
	// EventComplete indicates the run finished.
	EventComplete Type = "complete"
	// EventIssueUpdated indicates the issue state file changed on disk.
	EventIssueUpdated Type = "issue_updated"
)

// GlobalKey subscribes to events for all issues.
const GlobalKey = "*"

// Event is a published event, keyed by the issue reference string.
type Event struct {
	Type  Type      `json:"type"`
	Issue string    `json:"issue"`
	Data  any       `json:"data"`
	Time  time.Time `json:"time"`
}

// New creates an event stamped with the current time.
func New(eventType Type, issue string, data any) Event {
	return Event{Type: eventType, Issue: issue, Data: data, Time: time.Now()}
}

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of its issue key.
	Publish(event Event)
	// Subscribe returns a channel receiving events for the given issue key.
	// Use GlobalKey to receive everything.
	Subscribe(key string) <-chan Event
	// Unsubscribe removes and closes a subscription channel.
	Unsubscribe(key string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory Publisher. Delivery is non-blocking: a
// subscriber with a full buffer misses events rather than stalling the
// supervisor.
type MemoryPublisher struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	bufferSize  int
	closed      bool
}

// Option configures a MemoryPublisher.
type Option func(*MemoryPublisher)

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(size int) Option {
	return func(p *MemoryPublisher) { p.bufferSize = size }
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher(opts ...Option) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends the event to subscribers of its issue key and to global
// subscribers.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	for _, ch := range p.subscribers[event.Issue] {
		select {
		case ch <- event:
		default:
		}
	}
	if event.Issue != GlobalKey {
		for _, ch := range p.subscribers[GlobalKey] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving events for the given key.
func (p *MemoryPublisher) Subscribe(key string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, p.bufferSize)
	p.subscribers[key] = append(p.subscribers[key], ch)
	return ch
}

// Unsubscribe removes and closes the channel.
func (p *MemoryPublisher) Unsubscribe(key string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[key]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[key] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close shuts down the publisher and closes every subscription.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	p.subscribers = make(map[string][]chan Event)
}
