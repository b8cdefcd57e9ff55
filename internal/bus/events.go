package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"triger/internal/domain"
)

// Event represents a system event for internal pub/sub.
type Event struct {
	Type      string         // e.g. "message.received", "command.failed", "connection.open"
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time      // when the event was created
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides a topic-based publish/subscribe event system for internal
// events. "*" subscribes to every topic.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
	nextID   int
}

// namedHandler pairs a handler with an ID for unsubscription.
type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls the handlers of event.Type, then the wildcard handlers,
// synchronously and in registration order. A panicking handler is logged
// and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// --- Well-known event types ---
const (
	EventMessageReceived  = "message.received"
	EventDispatchDropped  = "dispatch.dropped"  // early exit; payload "outcome"
	EventDispatchFinished = "dispatch.finished" // a command was matched; payload "outcome"
	EventCommandCompleted = "command.completed"
	EventCommandFailed    = "command.failed" // payload "panic" is true for a recovered panic
	EventCommandDenied    = "command.denied"
	EventConnectionOpen   = "connection.open"
	EventConnectionClosed = "connection.closed"
)

const payloadConnection = "connection"

// ConnectionChanged builds the connection.open / connection.closed event for ev.
func ConnectionChanged(ev domain.ConnectionEvent) Event {
	typ := EventConnectionClosed
	if ev.State == domain.ConnectionOpen {
		typ = EventConnectionOpen
	}
	return Event{Type: typ, Source: ev.Transport, Payload: map[string]any{payloadConnection: ev}}
}

// ConnectionFrom extracts the domain.ConnectionEvent carried by e.
func ConnectionFrom(e Event) (domain.ConnectionEvent, bool) {
	ev, ok := e.Payload[payloadConnection].(domain.ConnectionEvent)
	return ev, ok
}
