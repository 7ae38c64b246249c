package events

import (
	"sync"
	"time"
)

// EventType names one of the task-lifecycle engine's emitted events. Names
// are part of the external interface; additive payload fields are allowed
// but names themselves are stable.
type EventType string

const (
	EventDaemonStarted EventType = "daemon:started"
	EventDaemonStopped EventType = "daemon:stopped"
	EventDaemonError   EventType = "daemon:error"

	EventTaskCreated       EventType = "task:created"
	EventTaskStageChanged  EventType = "task:stage-changed"
	EventTaskCompleted     EventType = "task:completed"
	EventTaskFailed        EventType = "task:failed"
	EventTaskSessionResumed EventType = "task:session-resumed"

	EventTasksAutoResumed EventType = "tasks:auto-resumed"

	EventCapacityRestored EventType = "capacity:restored"

	EventOrphanDetected  EventType = "orphan:detected"
	EventOrphanRecovered EventType = "orphan:recovered"

	EventUsageModeChanged EventType = "usage:mode-changed"
	EventSessionRecovered EventType = "session:recovered"
)

// Event is a value-typed payload broadcast by the broker. Payload holds the
// event-specific struct documented alongside each EventType constant above;
// subscribers type-assert on it.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Payload   any
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes published events to every live subscriber without
// blocking the publisher. A slow or stalled subscriber drops events rather
// than stall the rest of the system (see package doc).
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
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. It is not idempotent: a second call panics on the
// channel close, so each broker is stopped exactly once (the supervisor
// does this for the daemon-wide broker from Close).
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Timestamp is stamped if
// the caller left it zero.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
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
			// subscriber buffer full: drop its oldest pending event to make
			// room rather than stall the broker
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
