// Package dispatch turns inbound messages into command invocations: dedup,
// prefix detection, sender resolution, matching, authorization and isolated
// handler execution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"triger/internal/bus"
	"triger/internal/command"
	"triger/internal/config"
	"triger/internal/dedup"
	"triger/internal/domain"
	"triger/internal/identity"
	"triger/internal/metrics"
	"triger/internal/security"
)

const defaultConcurrency = 5

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeNoText       Outcome = "no-text"
	OutcomeNoConfig     Outcome = "no-config"
	OutcomeNoPrefix     Outcome = "no-prefix"
	OutcomeNoMatch      Outcome = "no-match"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
)

// Result describes what happened to one message.
type Result struct {
	DispatchID string
	Outcome    Outcome
	Identity   domain.Identity
	Commands   []string // commands that were invoked
	Err        error    // first handler error, for OutcomeFailed
}

// Snapshotter provides the per-dispatch config snapshot.
type Snapshotter interface {
	Current(ctx context.Context) (domain.ConfigSnapshot, error)
}

// Authorizer decides whether a sender may run a command.
type Authorizer interface {
	Authorize(ctx context.Context, req security.Request) security.Decision
}

// Matcher finds commands for a prefix-stripped body.
type Matcher interface {
	Match(body string) (command.Match, bool)
	MatchAll(body string) []command.Match
}

// Dispatcher routes inbound messages to command handlers.
type Dispatcher struct {
	matcher        Matcher
	snapshots      Snapshotter
	authorizer     Authorizer
	dedup          *dedup.Cache
	resolver       *identity.Resolver
	events         *bus.EventBus
	bus            domain.MessageBus
	logger         *slog.Logger
	matchAll       bool
	concurrency    int
	notifyFailures bool
	reportToSelf   bool
	newID          func() string
	wg             sync.WaitGroup
}

// Config holds the dependencies and tuning of a Dispatcher.
type Config struct {
	Matcher    Matcher
	Snapshots  Snapshotter
	Authorizer Authorizer
	Dedup      *dedup.Cache
	Resolver   *identity.Resolver
	Events     *bus.EventBus // optional
	Bus        domain.MessageBus
	Logger     *slog.Logger

	MatchMode          string // config.MatchFirst (default) or config.MatchAll
	Concurrency        int    // max parallel dispatches (default 5)
	NotifyFailures     bool   // send a short notice into the chat when a handler fails
	ReportErrorsToSelf bool   // send a detailed report to the agent's own chat
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Dedup == nil {
		cfg.Dedup = dedup.NewCache(dedup.DefaultWindow)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = identity.NewResolver(cfg.Logger)
	}
	return &Dispatcher{
		matcher:        cfg.Matcher,
		snapshots:      cfg.Snapshots,
		authorizer:     cfg.Authorizer,
		dedup:          cfg.Dedup,
		resolver:       cfg.Resolver,
		events:         cfg.Events,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		matchAll:       cfg.MatchMode == config.MatchAll,
		concurrency:    cfg.Concurrency,
		notifyFailures: cfg.NotifyFailures,
		reportToSelf:   cfg.ReportErrorsToSelf,
		newID:          uuid.NewString,
	}
}

// Run consumes the inbound bus with bounded concurrency until ctx is
// cancelled or the bus is closed, then waits for running dispatches.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency, "match_all", d.matchAll)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			d.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer d.wg.Done()
				defer func() { <-sem }()
				metrics.InFlight.Inc()
				defer metrics.InFlight.Dec()
				d.Dispatch(ctx, m)
			}(msg)
		}
	}
}

// Dispatch processes one message to completion. It never panics and never
// returns an error; the outcome is reported in Result.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) Result {
	res := Result{DispatchID: d.newID()}
	if msg.Via == nil {
		msg.Via = discardEndpoint{logger: d.logger}
	}
	d.emit(bus.EventMessageReceived, map[string]any{
		"dispatch_id": res.DispatchID,
		"id":          msg.ID,
		"transport":   msg.Transport,
		"chat":        msg.ChatID,
	})

	seen := d.dedup.Seen(msg.ID)
	metrics.DedupEntries.Set(int64(d.dedup.Len()))
	if seen {
		return d.drop(res, OutcomeDuplicate, msg)
	}

	text := msg.Content.Text()
	if strings.TrimSpace(text) == "" {
		return d.drop(res, OutcomeNoText, msg)
	}

	snap, err := d.snapshots.Current(ctx)
	if err != nil {
		d.logger.Warn("config snapshot unavailable, dropping message", "id", msg.ID, "err", err)
		return d.drop(res, OutcomeNoConfig, msg)
	}

	if snap.LogMessages {
		d.logger.Info("message",
			"transport", msg.Transport,
			"chat", msg.ChatID,
			"sender", msg.Sender,
			"push_name", msg.PushName,
			"text", text,
		)
	}

	prefix, body, ok := command.SplitPrefix(text, snap.Prefixes)
	if !ok {
		return d.drop(res, OutcomeNoPrefix, msg)
	}

	aliases := msg.Via
	agent := identity.Canonical(msg.Via.SelfID(), aliases)
	res.Identity = d.resolver.Resolve(identity.ReferenceOf(msg), aliases, agent, snap.Owner)
	chat := domain.Chat{
		ID:       msg.ChatID,
		Group:    msg.Group,
		SelfChat: !msg.Group && !agent.IsZero() && identity.Canonical(msg.ChatID, aliases) == agent,
	}

	var matches []command.Match
	if d.matchAll {
		matches = d.matcher.MatchAll(body)
	} else if m, found := d.matcher.Match(body); found {
		matches = []command.Match{m}
	}
	if len(matches) == 0 {
		return d.drop(res, OutcomeNoMatch, msg)
	}

	invoked := 0
	for _, m := range matches {
		decision := d.authorizer.Authorize(ctx, security.Request{
			Identity:  res.Identity,
			FromAgent: msg.FromAgent,
			Chat:      chat,
			Command:   m.Command,
			Snapshot:  snap,
		})
		if !decision.Allowed {
			d.emit(bus.EventCommandDenied, map[string]any{
				"dispatch_id": res.DispatchID,
				"command":     m.Command.Name,
				"sender":      res.Identity.String(),
				"rule":        string(decision.Rule),
			})
			continue
		}

		invoked++
		res.Commands = append(res.Commands, m.Command.Name)
		cc := &domain.CommandContext{
			DispatchID: res.DispatchID,
			Identity:   res.Identity,
			Chat:       chat,
			Event:      msg,
			Captures:   m.Captures,
			Body:       body,
			Prefix:     prefix,
			Snapshot:   snap,
		}
		if err := d.run(ctx, m.Command, cc); err != nil && res.Err == nil {
			res.Err = err
		}
	}

	switch {
	case invoked == 0:
		res.Outcome = OutcomeUnauthorized
	case res.Err != nil:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomeCompleted
	}
	d.emit(bus.EventDispatchFinished, map[string]any{
		"dispatch_id": res.DispatchID,
		"outcome":     string(res.Outcome),
		"commands":    res.Commands,
	})
	return res
}

// run invokes one handler with panic isolation and reports its outcome.
func (d *Dispatcher) run(ctx context.Context, desc domain.CommandDescriptor, cc *domain.CommandContext) error {
	start := time.Now()
	err := invoke(ctx, desc, cc)
	elapsed := time.Since(start)

	if err == nil {
		d.logger.Debug("command completed", "command", desc.Name, "sender", cc.Identity, "duration", elapsed)
		d.emit(bus.EventCommandCompleted, map[string]any{
			"dispatch_id": cc.DispatchID,
			"command":     desc.Name,
			"sender":      cc.Identity.String(),
			"duration":    elapsed,
		})
		return nil
	}

	var panicErr *PanicError
	d.logger.Error("command failed",
		"command", desc.Name,
		"sender", cc.Identity,
		"chat", cc.Chat.ID,
		"err", err,
	)
	d.emit(bus.EventCommandFailed, map[string]any{
		"dispatch_id": cc.DispatchID,
		"command":     desc.Name,
		"sender":      cc.Identity.String(),
		"error":       err.Error(),
		"panic":       errors.As(err, &panicErr),
		"duration":    elapsed,
	})
	d.reportFailure(ctx, desc, cc, err)
	return err
}

func invoke(ctx context.Context, desc domain.CommandDescriptor, cc *domain.CommandContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return desc.Handler(ctx, cc)
}

// PanicError is returned for a handler that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

func (d *Dispatcher) reportFailure(ctx context.Context, desc domain.CommandDescriptor, cc *domain.CommandContext, err error) {
	if d.notifyFailures {
		if sendErr := cc.Reply(ctx, fmt.Sprintf("⚠️ %s failed.", desc.Name)); sendErr != nil {
			d.logger.Warn("failure notice not delivered", "chat", cc.Chat.ID, "err", sendErr)
		}
	}

	if !d.reportToSelf {
		return
	}
	self := identity.Canonical(cc.Event.Via.SelfID(), cc.Event.Via)
	if self.IsZero() || identity.Canonical(cc.Chat.ID, cc.Event.Via) == self {
		return
	}
	report := fmt.Sprintf("*%s error report*\n\nCommand: %s%s\nSender: %s\nChat: %s\nError: %v",
		cc.Snapshot.BotName, cc.Prefix, cc.Body, cc.Identity, cc.Chat.ID, err)
	if sendErr := cc.Event.Via.Send(ctx, string(self), domain.OutboundMessage{Text: report}); sendErr != nil {
		d.logger.Warn("error report not delivered", "err", sendErr)
	}
}

func (d *Dispatcher) drop(res Result, outcome Outcome, msg domain.InboundMessage) Result {
	res.Outcome = outcome
	d.logger.Debug("message dropped", "outcome", outcome, "id", msg.ID, "chat", msg.ChatID)
	d.emit(bus.EventDispatchDropped, map[string]any{
		"dispatch_id": res.DispatchID,
		"outcome":     string(outcome),
		"id":          msg.ID,
	})
	return res
}

func (d *Dispatcher) emit(eventType string, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Emit(bus.Event{Type: eventType, Source: "dispatch", Payload: payload})
}

// discardEndpoint stands in for a missing transport endpoint.
type discardEndpoint struct {
	logger *slog.Logger
}

func (e discardEndpoint) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	e.logger.Warn("message has no transport endpoint, reply discarded", "chat", chatID)
	return nil
}

func (discardEndpoint) SelfID() string { return "" }

func (discardEndpoint) LookupAlias(string) (string, bool) { return "", false }
