package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an internal notification about something the engine did.
type Event struct {
	Type      string         // e.g. "skill.executed", "workflow.completed"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus that also remembers the
// most recent events. A nil *EventBus drops every event, so components can
// treat it as optional.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	logger   *slog.Logger
	nextID   atomic.Int64

	ring  []Event // fixed capacity, oldest at head once full
	head  int
	count int
}

type subscription struct {
	id string
	fn EventHandler
}

const defaultHistory = 1000

// NewEventBus creates an EventBus that remembers the last 1000 events.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]subscription),
		logger:   logger,
		ring:     make([]Event, defaultHistory),
	}
}

// On registers a handler for eventType; "*" receives every event. The returned
// id unsubscribes it.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	id := eventType + "#" + strconv.FormatInt(eb.nextID.Add(1), 10)
	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, fn: handler})
	eb.mu.Unlock()
	return id
}

// Off removes a handler by its id.
func (eb *EventBus) Off(eventType, id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subs := eb.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously, typed handlers first and
// then "*" handlers, each in registration order. A panicking handler is
// logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.remember(event)
	typed, wildcard := eb.handlers[event.Type], eb.handlers["*"]
	subs := make([]subscription, 0, len(typed)+len(wildcard))
	subs = append(append(subs, typed...), wildcard...)
	eb.mu.Unlock()

	for _, s := range subs {
		eb.call(s, event)
	}
}

func (eb *EventBus) call(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", s.id, "panic", r)
		}
	}()
	s.fn(event)
}

// remember stores event in the ring. Callers hold mu.
func (eb *EventBus) remember(event Event) {
	idx := (eb.head + eb.count) % len(eb.ring)
	eb.ring[idx] = event
	if eb.count < len(eb.ring) {
		eb.count++
	} else {
		eb.head = (eb.head + 1) % len(eb.ring)
	}
}

// Replay returns remembered events of eventType ("*" for all) at or after
// since, oldest first.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []Event
	for i := 0; i < eb.count; i++ {
		e := eb.ring[(eb.head+i)%len(eb.ring)]
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Well-known event types.
const (
	EventConversationCreated = "conversation.created"
	EventTurnCompleted       = "turn.completed"
	EventIntentDetected      = "intent.detected"
	EventSkillExecuted       = "skill.executed"
	EventWorkflowStarted     = "workflow.started"
	EventWorkflowCompleted   = "workflow.completed"
	EventWorkflowCancelled   = "workflow.cancelled"
	EventWorkflowExpired     = "workflow.expired"
	EventSubmissionFinished  = "submission.finished"
	EventPersistenceFailed   = "persistence.failed"
)
