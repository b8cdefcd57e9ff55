package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"triger/internal/bus"
	"triger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCLI_PublishesLinesAsAgent(t *testing.T) {
	in := strings.NewReader("!ping\n\n  !menu  \n/quit\n!ignored\n")
	var out bytes.Buffer
	c := New(Config{Logger: testLogger(), In: in, Out: &out})
	mb := bus.New(10, testLogger())

	if err := c.Start(context.Background(), mb); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mb.Close()

	var got []domain.InboundMessage
	for msg := range mb.Subscribe() {
		got = append(got, msg)
	}
	if len(got) != 2 {
		t.Fatalf("published %d messages, want 2", len(got))
	}
	if got[0].Content.Text() != "!ping" || got[1].Content.Text() != "!menu" {
		t.Errorf("texts = %q, %q", got[0].Content.Text(), got[1].Content.Text())
	}
	for _, m := range got {
		if !m.FromAgent || m.ChatID != SelfID || m.Sender != SelfID || m.Via != c {
			t.Errorf("unexpected message: %+v", m)
		}
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Errorf("ids must be unique: %q, %q", got[0].ID, got[1].ID)
	}
}

func TestCLI_StopsAtEOF(t *testing.T) {
	c := New(Config{Logger: testLogger(), In: strings.NewReader(""), Out: io.Discard})
	if err := c.Start(context.Background(), bus.New(1, testLogger())); err != nil {
		t.Errorf("Start = %v, want nil at EOF", err)
	}
}

func TestCLI_Send(t *testing.T) {
	var out bytes.Buffer
	c := New(Config{BotName: "Nova", Logger: testLogger(), Out: &out})
	if err := c.Send(context.Background(), SelfID, domain.OutboundMessage{Text: "Pong! 1ms"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(out.String(), "--- Nova ---") || !strings.Contains(out.String(), "Pong! 1ms") {
		t.Errorf("output = %q", out.String())
	}
}
