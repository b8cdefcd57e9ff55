package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(EventCommandCompleted, func(e Event) {
		if e.Payload["command"] != "ping" {
			t.Errorf("unexpected payload: %v", e.Payload)
		}
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventCommandCompleted, Payload: map[string]any{"command": "ping"}})
	eb.Emit(Event{Type: EventCommandFailed})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventConnectionOpen})
	eb.Emit(Event{Type: EventConnectionClosed})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_OffRemovesOnlyThatHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On(EventCommandDenied, func(e Event) { atomic.AddInt32(&a, 1) })
	eb.On(EventCommandDenied, func(e Event) { atomic.AddInt32(&b, 1) })

	eb.Off(EventCommandDenied, idA)
	// A handler added after removal must not reuse idA.
	idC := eb.On(EventCommandDenied, func(e Event) {})
	if idC == idA {
		t.Fatalf("handler id %q reused", idA)
	}

	eb.Emit(Event{Type: EventCommandDenied})

	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("expected a=0 b=1, got a=%d b=%d", a, b)
	}
}

func TestEventBus_SpecificBeforeWildcard(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var order []string
	eb.On("*", func(e Event) { order = append(order, "wildcard") })
	eb.On(EventDispatchFinished, func(e Event) { order = append(order, "specific") })

	eb.Emit(Event{Type: EventDispatchFinished})

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("order = %v", order)
	}
}

func TestEventBus_SetsTimestamp(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got time.Time
	eb.On(EventMessageReceived, func(e Event) { got = e.Timestamp })
	eb.Emit(Event{Type: EventMessageReceived})

	if got.IsZero() {
		t.Error("Emit should stamp events without a timestamp")
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On(EventCommandFailed, func(e Event) { panic("handler bug") })
	eb.On(EventCommandFailed, func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventCommandFailed})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("a panicking handler must not stop later handlers")
	}
}
