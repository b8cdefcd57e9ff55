package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"triger/internal/bus"
	"triger/internal/domain"
	"triger/internal/identity"
	"triger/internal/security"
)

// Bootstrap makes the operator's own account the owner on the first
// connection when no owner is configured yet.
type Bootstrap struct {
	mu     sync.Mutex
	store  domain.ConfigStore
	audit  *security.Engine
	logger *slog.Logger
}

func NewBootstrap(store domain.ConfigStore, audit *security.Engine, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{store: store, audit: audit, logger: logger}
}

// Attach subscribes EnsureOwner to connection.open events. It returns the
// handler id for EventBus.Off.
func (b *Bootstrap) Attach(ctx context.Context, events *bus.EventBus) string {
	return events.On(bus.EventConnectionOpen, func(e bus.Event) {
		ev, ok := bus.ConnectionFrom(e)
		if !ok {
			return
		}
		if _, err := b.EnsureOwner(ctx, ev); err != nil {
			b.logger.Error("owner bootstrap failed", "transport", ev.Transport, "err", err)
		}
	})
}

// EnsureOwner sets OWNER to the agent's own identity when ev is an open
// event from an operator account and OWNER is unset. It reports whether it
// wrote the owner; repeated opens are no-ops.
func (b *Bootstrap) EnsureOwner(ctx context.Context, ev domain.ConnectionEvent) (bool, error) {
	if ev.State != domain.ConnectionOpen || !ev.OperatorAccount {
		return false, nil
	}
	self := identity.Canonical(ev.Self, nil)
	if self.IsZero() {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.store.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}
	if strings.TrimSpace(values[domain.KeyOwner]) != "" {
		return false, nil
	}

	stored := identity.StorageForm(self)
	if err := b.store.Set(ctx, domain.KeyOwner, stored); err != nil {
		return false, fmt.Errorf("set owner: %w", err)
	}

	b.logger.Info("owner bootstrapped from connected account", "transport", ev.Transport, "owner", self)
	if b.audit != nil {
		b.audit.Record(ctx, domain.AuditEntry{
			Action:   "owner_bootstrap",
			Identity: self.String(),
			Result:   "updated",
			Details:  "transport " + ev.Transport,
		})
	}
	return true, nil
}
