// Package cli is a terminal transport: each line typed is a message sent by
// the agent's own account into its self chat.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"triger/internal/domain"
)

const (
	transportName = "cli"

	// SelfID is the local operator's account id; the REPL is its self chat.
	SelfID = "local@cli"
)

type Config struct {
	BotName string
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

// CLI implements domain.Transport for interactive terminal use.
type CLI struct {
	botName string
	logger  *slog.Logger
	in      io.Reader

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

func New(cfg Config) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.BotName == "" {
		cfg.BotName = "Triger"
	}
	return &CLI{
		botName: cfg.BotName,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
	}
}

func (c *CLI) Name() string { return transportName }

func (c *CLI) SelfID() string { return SelfID }

func (c *CLI) LookupAlias(string) (string, bool) { return "", false }

// Start runs the REPL until EOF, a quit command, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, mbus domain.MessageBus) error {
	c.print("Triger CLI. Type a command (e.g. !menu) and press Enter. Type /quit to exit.\n> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read cli input: %w", err)
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			c.print("> ")
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		}

		mbus.Publish(domain.InboundMessage{
			ID:        uuid.NewString(),
			Transport: transportName,
			ChatID:    SelfID,
			Sender:    SelfID,
			FromAgent: true,
			Content:   domain.MessageContent{Conversation: line},
			Timestamp: time.Now(),
			Via:       c,
		})
	}
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	return c.print(fmt.Sprintf("\r--- %s ---\n%s\n----------------\n> ", c.botName, msg.Text))
}

func (c *CLI) print(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, s)
	return err
}
