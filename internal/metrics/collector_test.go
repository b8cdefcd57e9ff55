package metrics

import (
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"triger/internal/bus"
	"triger/internal/domain"
)

func TestCounterVec_SeriesPerLabelValues(t *testing.T) {
	r := NewRegistry()
	v := r.NewCounterVec("x_total", "help", "outcome")

	v.With("completed").Inc()
	v.With("completed").Add(2)
	v.With("failed").Inc()

	if got := v.With("completed").Value(); got != 3 {
		t.Errorf("completed = %d, want 3", got)
	}
	if got := v.With("failed").Value(); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if r.NewCounterVec("x_total", "help", "outcome").With("completed").Value() != 3 {
		t.Error("re-registering the same family should return the existing series")
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	g := NewRegistry().NewGauge("g", "help")
	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Errorf("expected 4, got %d", g.Value())
	}
}

func TestRegistry_SchemaMismatchPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *Registry)
	}{
		{"kind", func(r *Registry) { r.NewGaugeVec("runs_total", "h", "command") }},
		{"labels", func(r *Registry) { r.NewCounterVec("runs_total", "h", "command", "result") }},
		{"value count", func(r *Registry) { r.NewCounterVec("runs_total", "h", "command").With("a", "b") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.NewCounterVec("runs_total", "h", "command")
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(r)
		})
	}
}

func render(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	return rec.Body.String()
}

func TestHandler_RendersLabelFamilies(t *testing.T) {
	r := NewRegistry()
	runs := r.NewCounterVec("triger_command_runs_total", "Runs", "command", "result")
	runs.With("ping", "failed").Inc()
	runs.With("addsudo", "denied").Add(2)
	r.NewGauge("triger_dedup_entries", "entries").Set(3)
	r.NewCounterVec("triger_unused_total", "never touched", "x")
	h := r.NewHistogramVec("triger_handler_latency_seconds", "latency", []float64{1, 0.1, math.Inf(1)}, "command")
	h.With("ping").Observe(0.05)
	h.With("ping").Observe(0.5)

	body := render(t, r)

	for _, want := range []string{
		"# TYPE triger_command_runs_total counter",
		`triger_command_runs_total{command="addsudo",result="denied"} 2`,
		`triger_command_runs_total{command="ping",result="failed"} 1`,
		"triger_dedup_entries 3",
		"# TYPE triger_handler_latency_seconds histogram",
		`triger_handler_latency_seconds_bucket{command="ping",le="0.1"} 1`,
		`triger_handler_latency_seconds_bucket{command="ping",le="1"} 2`,
		`triger_handler_latency_seconds_bucket{command="ping",le="+Inf"} 2`,
		`triger_handler_latency_seconds_sum{command="ping"} 0.55`,
		`triger_handler_latency_seconds_count{command="ping"} 2`,
		"triger_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
	if strings.Count(body, `le="+Inf"`) != 1 {
		t.Errorf("+Inf bucket should be rendered once:\n%s", body)
	}
	if strings.Contains(body, "triger_unused_total") {
		t.Error("families without series should not be rendered")
	}
	if strings.Index(body, `command="addsudo"`) > strings.Index(body, `command="ping",result`) {
		t.Error("series should be sorted by label values")
	}
	if strings.Index(body, "triger_command_runs_total") > strings.Index(body, "triger_dedup_entries") {
		t.Error("families should be sorted by name")
	}
}

func TestHandler_EscapesLabelValues(t *testing.T) {
	r := NewRegistry()
	r.NewCounterVec("c_total", "h", "command").With("say \"hi\"\n\\").Inc()

	body := render(t, r)
	if want := `c_total{command="say \"hi\"\n\\"} 1`; !strings.Contains(body, want) {
		t.Errorf("missing %q in output:\n%s", want, body)
	}
}

func TestRecord_FromEventBus(t *testing.T) {
	events := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	Attach(events)

	received := MessagesReceived.Value()
	noPrefix := Dispatches.With("no-prefix").Value()
	completed := Dispatches.With("completed").Value()
	pingOK := CommandRuns.With("record-ping", "completed").Value()
	boomFailed := CommandRuns.With("record-boom", "failed").Value()
	denied := CommandRuns.With("record-sudo", "denied").Value()
	panics := HandlerPanics.Value()
	latency := HandlerLatency.With("record-ping").Count()

	events.Emit(bus.Event{Type: bus.EventMessageReceived})
	events.Emit(bus.Event{Type: bus.EventDispatchDropped, Payload: map[string]any{"outcome": "no-prefix"}})
	events.Emit(bus.Event{Type: bus.EventDispatchFinished, Payload: map[string]any{"outcome": "completed"}})
	events.Emit(bus.Event{Type: bus.EventCommandCompleted, Payload: map[string]any{"command": "record-ping", "duration": 20 * time.Millisecond}})
	events.Emit(bus.Event{Type: bus.EventCommandFailed, Payload: map[string]any{"command": "record-boom", "panic": true}})
	events.Emit(bus.Event{Type: bus.EventCommandDenied, Payload: map[string]any{"command": "record-sudo"}})

	checks := []struct {
		name      string
		got, want int64
	}{
		{"messages", MessagesReceived.Value(), received + 1},
		{"no-prefix", Dispatches.With("no-prefix").Value(), noPrefix + 1},
		{"completed", Dispatches.With("completed").Value(), completed + 1},
		{"ping completed", CommandRuns.With("record-ping", "completed").Value(), pingOK + 1},
		{"boom failed", CommandRuns.With("record-boom", "failed").Value(), boomFailed + 1},
		{"sudo denied", CommandRuns.With("record-sudo", "denied").Value(), denied + 1},
		{"panics", HandlerPanics.Value(), panics + 1},
		{"latency observations", HandlerLatency.With("record-ping").Count(), latency + 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestRecord_TransportUp(t *testing.T) {
	Record(bus.ConnectionChanged(domain.ConnectionEvent{Transport: "record-wa", State: domain.ConnectionOpen}))
	if TransportUp.With("record-wa").Value() != 1 {
		t.Fatal("open should set the transport gauge to 1")
	}
	Record(bus.ConnectionChanged(domain.ConnectionEvent{Transport: "record-wa", State: domain.ConnectionClosed}))
	if TransportUp.With("record-wa").Value() != 0 {
		t.Fatal("close should reset the transport gauge")
	}
}
