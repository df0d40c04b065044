// Package events is the memory core's internal audit/observability bus:
// every memory lifecycle transition is published here so the HTTP control
// plane (or a future audit sink) can subscribe without coupling the store
// to its consumers. Adapted from the teacher's cluster event broker
// (pkg/events/events.go), same subscribe/publish/broadcast shape, domain
// events renamed from service/task/node/secret/volume to the memory
// lifecycle.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is one kind of memory lifecycle transition.
type EventType string

const (
	EventMemoryCreated    EventType = "memory.created"
	EventMemoryUpdated    EventType = "memory.updated"
	EventMemoryDeleted    EventType = "memory.deleted"
	EventMemoryDeprecated EventType = "memory.deprecated"
	EventAliasCreated     EventType = "memory.alias_created"
	EventGuardDecision    EventType = "guard.decision"
	EventSnapshotCaptured EventType = "snapshot.captured"
	EventSnapshotRollback EventType = "snapshot.rollback"
	EventIndexJobDone     EventType = "index.job_done"
	EventCleanupPrepared  EventType = "cleanup.prepared"
	EventCleanupConfirmed EventType = "cleanup.confirmed"
	EventVitalityDecayed  EventType = "vitality.decayed"
	EventSleepApplied     EventType = "sleep.applied"
)

// Event is one published lifecycle transition.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	MemoryID  string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 200),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish assigns an id/timestamp if missing and queues event for
// broadcast. Publish never blocks the caller past stop: a shutdown
// mid-publish drops the event rather than wedge the writer.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// Emit is a convenience wrapper over Publish for the common case.
func (b *Broker) Emit(eventType EventType, memoryID, message string) {
	b.Publish(&Event{Type: eventType, MemoryID: memoryID, Message: message})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
