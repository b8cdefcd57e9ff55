package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"triger/internal/bus"
	"triger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInbound_PrivateText(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 1001, FirstName: "Ana"},
		Chat:      &tgbotapi.Chat{ID: 1001, Type: "private"},
		Date:      1700000000,
		Text:      "!ping",
	}
	msg, ok := inbound(m)
	if !ok {
		t.Fatal("expected message")
	}
	if msg.ID != "1001:42" || msg.ChatID != "1001" || msg.Sender != "1001@telegram" {
		t.Errorf("unexpected ids: %+v", msg)
	}
	if msg.Group || msg.FromAgent {
		t.Errorf("private chat flagged as group or agent: %+v", msg)
	}
	if msg.Content.Text() != "!ping" || msg.PushName != "Ana" {
		t.Errorf("content = %q, push name = %q", msg.Content.Text(), msg.PushName)
	}
}

func TestInbound_GroupKinds(t *testing.T) {
	for _, kind := range []string{"group", "supergroup"} {
		m := &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 7},
			Chat:      &tgbotapi.Chat{ID: -100, Type: kind},
			Text:      "hi",
		}
		msg, _ := inbound(m)
		if !msg.Group {
			t.Errorf("%s chat should be a group", kind)
		}
	}
}

func TestInbound_CommandMentionStripped(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 3,
		From:      &tgbotapi.User{ID: 7},
		Chat:      &tgbotapi.Chat{ID: 7, Type: "private"},
		Text:      "/addsudo@triger_bot 15550000009",
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 19}},
	}
	msg, _ := inbound(m)
	if got := msg.Content.Text(); got != "/addsudo 15550000009" {
		t.Errorf("text = %q", got)
	}
}

func TestInbound_CaptionAndQuote(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID:      5,
		From:           &tgbotapi.User{ID: 7},
		Chat:           &tgbotapi.Chat{ID: 7, Type: "private"},
		Photo:          []tgbotapi.PhotoSize{{FileID: "f"}},
		Caption:        "!hello",
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 99}},
	}
	msg, _ := inbound(m)
	if msg.Content.ImageCaption != "!hello" || msg.Content.Text() != "!hello" {
		t.Errorf("caption not used: %+v", msg.Content)
	}
	if msg.QuotedParticipant != "99@telegram" {
		t.Errorf("quoted = %q", msg.QuotedParticipant)
	}
}

func TestInbound_Skips(t *testing.T) {
	for _, m := range []*tgbotapi.Message{
		nil,
		{Chat: &tgbotapi.Chat{ID: 1}},
		{From: &tgbotapi.User{ID: 1}},
	} {
		if _, ok := inbound(m); ok {
			t.Errorf("inbound(%+v) should be skipped", m)
		}
	}
}

func TestQuotedMessageID(t *testing.T) {
	tests := map[string]int{
		"1001:42": 42,
		"-100:7":  7,
		"":        0,
		"garbage": 0,
		"1:x":     0,
	}
	for in, want := range tests {
		if got := quotedMessageID(in); got != want {
			t.Errorf("quotedMessageID(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}

	long := strings.Repeat("a", 7) + "\n" + strings.Repeat("b", 7)
	got := splitMessage(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 7) {
		t.Errorf("split at newline = %q", got)
	}
	if strings.Join(got, "") != long {
		t.Error("chunks must reassemble to the input")
	}

	hard := strings.Repeat("x", 25)
	got = splitMessage(hard, 10)
	if len(got) != 3 || len(got[0]) != 10 {
		t.Errorf("hard split = %q", got)
	}
}

func TestTelegram_Endpoint(t *testing.T) {
	tg := New(Config{Token: "x", Logger: testLogger()})
	if tg.SelfID() != "" {
		t.Error("bot accounts have no self id")
	}
	if _, ok := tg.LookupAlias("anything"); ok {
		t.Error("telegram has no aliases")
	}
	if err := tg.Send(context.Background(), "1", domain.OutboundMessage{Text: "hi"}); err == nil {
		t.Error("Send before Start should fail")
	}
}

// fakeAPI serves getMe and getUpdates. getMe fails with failCode for the
// first failures calls.
func fakeAPI(t *testing.T, failures int32, failCode int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var getMe atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			if getMe.Add(1) <= failures {
				fmt.Fprintf(w, `{"ok":false,"error_code":%d,"description":"failure %d"}`, failCode, failCode)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Triger","username":"triger_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			time.Sleep(20 * time.Millisecond)
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		default:
			fmt.Fprint(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &getMe
}

func newTestTelegram(srv *httptest.Server, events *bus.EventBus) *Telegram {
	tg := New(Config{
		Token:       "123:abc",
		APIEndpoint: srv.URL + "/bot%s/%s",
		Events:      events,
		Logger:      testLogger(),
	})
	tg.minBackoff = 5 * time.Millisecond
	tg.maxBackoff = 20 * time.Millisecond
	return tg
}

func TestStart_RetriesInitUntilConnected(t *testing.T) {
	srv, getMe := fakeAPI(t, 2, 502)
	events := bus.NewEventBus(testLogger())
	opened := make(chan struct{}, 1)
	events.On(bus.EventConnectionOpen, func(bus.Event) { opened <- struct{}{} })

	tg := newTestTelegram(srv, events)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Start(ctx, bus.New(4, testLogger())) }()

	select {
	case <-opened:
	case <-time.After(3 * time.Second):
		t.Fatal("transport never connected")
	}
	if n := getMe.Load(); n != 3 {
		t.Errorf("getMe calls = %d, want 3", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_UnauthorizedStops(t *testing.T) {
	srv, getMe := fakeAPI(t, 1000, 401)
	tg := newTestTelegram(srv, nil)

	err := tg.Start(context.Background(), bus.New(4, testLogger()))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if n := getMe.Load(); n != 1 {
		t.Errorf("getMe calls = %d, want 1", n)
	}
}

func TestStart_CancelDuringRetry(t *testing.T) {
	srv, _ := fakeAPI(t, 1000, 500)
	tg := newTestTelegram(srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tg.Start(ctx, bus.New(4, testLogger())); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tg.Send(context.Background(), "1", domain.OutboundMessage{Text: "hi"}); err == nil {
		t.Error("Send without a connected bot should fail")
	}
}
