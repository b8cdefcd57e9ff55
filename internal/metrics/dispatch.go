package metrics

import (
	"time"

	"triger/internal/bus"
)

// Default is the registry served by the gateway.
var Default = NewRegistry()

var (
	MessagesReceived = Default.NewCounter("triger_messages_received_total", "Inbound messages seen by the dispatcher")
	Dispatches       = Default.NewCounterVec("triger_dispatch_total", "Dispatches by outcome", "outcome")
	CommandRuns      = Default.NewCounterVec("triger_command_runs_total", "Command handler runs by command and result", "command", "result")
	HandlerPanics    = Default.NewCounter("triger_handler_panics_total", "Recovered command handler panics")
	HandlerLatency   = Default.NewHistogramVec("triger_handler_latency_seconds", "Command handler latency in seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30}, "command")
	TransportUp = Default.NewGaugeVec("triger_transport_up", "1 while the transport connection is open", "transport")

	DedupEntries = Default.NewGauge("triger_dedup_entries", "Message ids currently held by the dedup cache")
	InFlight     = Default.NewGauge("triger_dispatch_in_flight", "Dispatches currently running")
)

// Attach records the dispatch and connection events of events into Default.
// It returns the subscription id.
func Attach(events *bus.EventBus) string {
	return events.On("*", Record)
}

// Record updates the metrics for one event. Unknown events are ignored.
func Record(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		MessagesReceived.Inc()
	case bus.EventDispatchDropped, bus.EventDispatchFinished:
		if outcome, ok := e.Payload["outcome"].(string); ok {
			Dispatches.With(outcome).Inc()
		}
	case bus.EventCommandCompleted, bus.EventCommandFailed, bus.EventCommandDenied:
		recordCommand(e)
	case bus.EventConnectionOpen, bus.EventConnectionClosed:
		if ev, ok := bus.ConnectionFrom(e); ok {
			up := int64(0)
			if e.Type == bus.EventConnectionOpen {
				up = 1
			}
			TransportUp.With(ev.Transport).Set(up)
		}
	}
}

func recordCommand(e bus.Event) {
	name, _ := e.Payload["command"].(string)
	result := map[string]string{
		bus.EventCommandCompleted: "completed",
		bus.EventCommandFailed:    "failed",
		bus.EventCommandDenied:    "denied",
	}[e.Type]
	CommandRuns.With(name, result).Inc()

	if panicked, _ := e.Payload["panic"].(bool); panicked {
		HandlerPanics.Inc()
	}
	if d, ok := e.Payload["duration"].(time.Duration); ok {
		HandlerLatency.With(name).Observe(d.Seconds())
	}
}
