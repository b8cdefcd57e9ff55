// Package whatsapp connects to a WhatsApp bridge process (a Baileys based
// Node.js service) over a WebSocket and exposes it as a domain.Transport.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"triger/internal/bus"
	"triger/internal/domain"
	"triger/internal/identity"
)

const transportName = "whatsapp"

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
)

// ErrLoggedOut is returned by Start when the bridge reports that the linked
// device was logged out.
var ErrLoggedOut = errors.New("whatsapp: device logged out")

var errNotConnected = errors.New("whatsapp bridge not connected")

type Config struct {
	URL       string
	Token     string  // sent in an auth frame after connecting, if set
	SendRate  float64 // messages per second; 0 disables throttling
	SendBurst int
	Events    *bus.EventBus // optional, receives connection events
	Logger    *slog.Logger
}

// Bridge implements domain.Transport over the bridge WebSocket.
type Bridge struct {
	url     string
	token   string
	events  *bus.EventBus
	logger  *slog.Logger
	limiter *rate.Limiter
	aliases *identity.AliasTable

	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex // guards conn and serializes writes
	conn   *websocket.Conn
	cancel context.CancelFunc

	selfMu sync.RWMutex
	self   string
}

func New(cfg Config) *Bridge {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return &Bridge{
		url:        cfg.URL,
		token:      cfg.Token,
		events:     cfg.Events,
		logger:     cfg.Logger,
		limiter:    limiter,
		aliases:    identity.NewAliasTable(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

func (b *Bridge) Name() string { return transportName }

// SelfID returns the account id reported by the last open connection.
func (b *Bridge) SelfID() string {
	b.selfMu.RLock()
	defer b.selfMu.RUnlock()
	return b.self
}

func (b *Bridge) LookupAlias(alias string) (string, bool) {
	return b.aliases.LookupAlias(alias)
}

// Start connects to the bridge and publishes inbound messages on mbus. It
// reconnects with exponential backoff and blocks until ctx is cancelled,
// Stop is called, or the device is logged out.
func (b *Bridge) Start(ctx context.Context, mbus domain.MessageBus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info("whatsapp bridge starting", "url", b.url)

	backoff := b.minBackoff
	for {
		connected, err := b.session(ctx, mbus)
		if errors.Is(err, ErrLoggedOut) {
			b.logger.Error("whatsapp device logged out, not reconnecting")
			return err
		}
		if ctx.Err() != nil {
			b.logger.Info("whatsapp bridge stopped")
			return nil
		}
		if connected {
			backoff = b.minBackoff
		}

		b.logger.Warn("whatsapp bridge connection lost, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			b.logger.Info("whatsapp bridge stopped")
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, b.maxBackoff)
	}
}

// session runs one connection until it fails. connected reports whether the
// dial succeeded.
func (b *Bridge) session(ctx context.Context, mbus domain.MessageBus) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial whatsapp bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	open := false
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		b.mu.Lock()
		_ = conn.Close()
		b.conn = nil
		b.mu.Unlock()
		if open {
			b.emit(domain.ConnectionEvent{Transport: transportName, State: domain.ConnectionClosed})
		}
	}()

	b.logger.Info("whatsapp bridge connected", "url", b.url)

	if b.token != "" {
		if err := b.writeJSON(authFrame{Type: frameAuth, Token: b.token}); err != nil {
			return true, fmt.Errorf("authenticate to whatsapp bridge: %w", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read whatsapp bridge: %w", err)
		}
		if err := b.handleFrame(raw, mbus, &open); err != nil {
			if errors.Is(err, ErrLoggedOut) {
				return true, err
			}
			b.logger.Warn("whatsapp bridge frame ignored", "err", err)
		}
	}
}

func (b *Bridge) handleFrame(raw []byte, mbus domain.MessageBus, open *bool) error {
	f, err := decodeFrame(raw)
	if err != nil {
		return err
	}

	switch f.Type {
	case frameMessage:
		msg, ok := f.inbound()
		if !ok {
			b.logger.Debug("whatsapp message frame without id or chat")
			return nil
		}
		msg.Via = b
		mbus.Publish(msg)

	case frameConnection:
		switch f.State {
		case "open":
			b.selfMu.Lock()
			b.self = f.Self
			b.selfMu.Unlock()
			*open = true
			b.logger.Info("whatsapp connection open", "self", f.Self)
			b.emit(domain.ConnectionEvent{
				Transport:       transportName,
				State:           domain.ConnectionOpen,
				Self:            f.Self,
				OperatorAccount: true,
			})
		case "close", "closed":
			*open = false
			b.logger.Warn("whatsapp connection closed", "reason", f.Reason)
			b.emit(domain.ConnectionEvent{Transport: transportName, State: domain.ConnectionClosed, Reason: f.Reason})
			if f.Reason == reasonLoggedOut {
				return ErrLoggedOut
			}
		default:
			b.logger.Debug("whatsapp connection state", "state", f.State)
		}

	case frameLIDMapping:
		for _, m := range f.mappings() {
			b.aliases.Put(m.LID, m.PN)
		}
		b.logger.Debug("whatsapp alias mappings updated", "known", b.aliases.Len())

	case frameQR:
		b.logger.Info("whatsapp bridge waiting for QR code scan")

	case frameError:
		b.logger.Error("whatsapp bridge error", "error", f.Error)

	default:
		b.logger.Debug("whatsapp bridge frame type unknown", "type", f.Type)
	}
	return nil
}

// Send writes a send frame, waiting for the rate limiter first.
func (b *Bridge) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return b.writeJSON(sendFrame{Type: frameSend, To: chatID, Text: msg.Text, Quoted: msg.QuoteID})
}

// Stop ends a running Start.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

func (b *Bridge) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return errNotConnected
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write bridge frame: %w", err)
	}
	return nil
}

func (b *Bridge) emit(ev domain.ConnectionEvent) {
	if b.events != nil {
		b.events.Emit(bus.ConnectionChanged(ev))
	}
}
