// Package telegram exposes a Telegram bot as a domain.Transport using long
// polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"triger/internal/bus"
	"triger/internal/domain"
)

const (
	transportName = "telegram"

	// Server suffix of sender identities. Telegram ids never collide with
	// WhatsApp ids because of it.
	Server = "telegram"

	maxMsgLen      = 4000
	maxSendRetries = 3
	pollTimeout    = 30

	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrUnauthorized is returned by Start when Telegram rejects the bot token.
var ErrUnauthorized = errors.New("telegram rejected the bot token")

type Config struct {
	Token       string
	APIEndpoint string        // default tgbotapi.APIEndpoint
	ParseMode   string        // default Markdown
	Events      *bus.EventBus // optional
	Logger      *slog.Logger
}

// Telegram implements domain.Transport for a Telegram bot account.
type Telegram struct {
	token      string
	endpoint   string
	parseMode  string
	events     *bus.EventBus
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
}

func New(cfg Config) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		token:      cfg.Token,
		endpoint:   cfg.APIEndpoint,
		parseMode:  cfg.ParseMode,
		events:     cfg.Events,
		logger:     cfg.Logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

func (t *Telegram) Name() string { return transportName }

// SelfID is always empty: a bot account has no chat with itself.
func (t *Telegram) SelfID() string { return "" }

// LookupAlias always misses; Telegram has a single id scheme.
func (t *Telegram) LookupAlias(string) (string, bool) { return "", false }

// Start connects to Telegram and publishes updates until ctx is cancelled.
// Connecting is retried with exponential backoff; a rejected token ends
// Start with ErrUnauthorized.
func (t *Telegram) Start(ctx context.Context, mbus domain.MessageBus) error {
	bot, err := t.connect(ctx)
	if err != nil || bot == nil {
		return err
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t.emit(domain.ConnectionEvent{Transport: transportName, State: domain.ConnectionOpen})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram transport stopping")
			bot.StopReceivingUpdates()
			t.emit(domain.ConnectionEvent{Transport: transportName, State: domain.ConnectionClosed})
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := inbound(update.Message)
			if !ok {
				continue
			}
			msg.Via = t
			mbus.Publish(msg)
		}
	}
}

// connect retries bot initialization until it succeeds. It returns a nil bot
// when ctx is cancelled first.
func (t *Telegram) connect(ctx context.Context) (*tgbotapi.BotAPI, error) {
	backoff := t.minBackoff
	for {
		bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
		if err == nil {
			return bot, nil
		}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 401 {
			t.logger.Error("telegram bot token rejected, not reconnecting")
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		}

		t.logger.Warn("telegram bot init failed, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, t.maxBackoff)
	}
}

func (t *Telegram) client() *tgbotapi.BotAPI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot
}

// Stop is a no-op; the bot stops when Start's context is cancelled.
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

// Send posts msg into chatID, split into chunks below the Telegram size
// limit. A QuoteID from this transport makes the first chunk a reply.
func (t *Telegram) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	bot := t.client()
	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	replyTo := quotedMessageID(msg.QuoteID)
	for _, chunk := range splitMessage(msg.Text, maxMsgLen) {
		if err := t.sendChunk(ctx, bot, id, chunk, replyTo); err != nil {
			return err
		}
		replyTo = 0
	}
	return nil
}

// sendChunk sends one chunk: Markdown first, plain text on a parse error,
// backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string, replyTo int) error {
	var err error
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		if _, err = bot.Send(msg); err == nil {
			return nil
		}
		errStr := err.Error()

		backoff := time.Duration(attempt+1) * time.Second
		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			backoff = time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		case attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		default:
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}

		if attempt == maxSendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", maxSendRetries+1, err)
}

func (t *Telegram) emit(ev domain.ConnectionEvent) {
	if t.events != nil {
		t.events.Emit(bus.ConnectionChanged(ev))
	}
}

// inbound converts a Telegram message. Messages without a sender or chat
// are skipped.
func inbound(m *tgbotapi.Message) (domain.InboundMessage, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := domain.InboundMessage{
		ID:        messageID(chatID, m.MessageID),
		Transport: transportName,
		ChatID:    chatID,
		Group:     m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
		Sender:    userID(m.From.ID),
		PushName:  m.From.FirstName,
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if r := m.ReplyToMessage; r != nil && r.From != nil {
		msg.QuotedParticipant = userID(r.From.ID)
	}

	text := m.Text
	if m.IsCommand() {
		// "/ping@mybot args" addresses this bot; drop the mention.
		text = "/" + m.Command()
		if args := m.CommandArguments(); args != "" {
			text += " " + args
		}
	}
	msg.Content.Conversation = text
	switch {
	case m.Photo != nil:
		msg.Content.ImageCaption = m.Caption
	case m.Video != nil:
		msg.Content.VideoCaption = m.Caption
	case m.Document != nil:
		msg.Content.DocumentCaption = m.Caption
	}
	return msg, true
}

func userID(id int64) string {
	return strconv.FormatInt(id, 10) + "@" + Server
}

// messageID is unique per bot: Telegram message ids are only unique per chat.
func messageID(chatID string, id int) string {
	return chatID + ":" + strconv.Itoa(id)
}

func quotedMessageID(quoteID string) int {
	_, id, ok := strings.Cut(quoteID, ":")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0
	}
	return n
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// line breaks in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
