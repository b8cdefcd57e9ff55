package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"triger/internal/config"
	"triger/internal/domain"
	"triger/internal/identity"
)

var (
	phoneNumber = regexp.MustCompile(`^\d{10,}$`)
	numericUser = regexp.MustCompile(`^\d+$`)
)

type sudoModule struct {
	mu    sync.Mutex // serializes read-modify-write of SUDO
	store domain.ConfigStore
	audit func(ctx context.Context, entry domain.AuditEntry)
}

func sudoCommands(deps Deps) []domain.CommandDescriptor {
	m := &sudoModule{store: deps.Store, audit: auditFunc(deps)}
	return []domain.CommandDescriptor{
		{
			Name:        "listsudo",
			Pattern:     `listsudo`,
			Description: "List delegated admins",
			Category:    "admin",
			Permission:  domain.PermissionOpen,
			Handler:     m.list,
		},
		{
			Name:        "addsudo",
			Pattern:     `addsudo(?:\s+(\d+))?`,
			Description: "Add a delegated admin (number or quoted user)",
			Category:    "admin",
			Permission:  domain.PermissionRestricted,
			Handler:     m.add,
		},
		{
			Name:        "removesudo",
			Pattern:     `removesudo(?:\s+(\d+))?`,
			Description: "Remove a delegated admin (number or quoted user)",
			Category:    "admin",
			Permission:  domain.PermissionRestricted,
			Handler:     m.remove,
		},
	}
}

func (m *sudoModule) list(ctx context.Context, cc *domain.CommandContext) error {
	if len(cc.Snapshot.Admins) == 0 {
		return cc.Send(ctx, "No sudo users found.")
	}
	return cc.Send(ctx, "👑 sudo added = "+joinNumbers(cc.Snapshot.Admins))
}

func (m *sudoModule) add(ctx context.Context, cc *domain.CommandContext) error {
	target, ok := sudoTarget(cc)
	if !ok {
		return cc.Send(ctx, "❌ Provide a valid number or reply to a user.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	admins, err := m.current(ctx)
	if err != nil {
		return err
	}
	for _, a := range admins {
		if a == target {
			return cc.Send(ctx, "✅ Already in sudo list.")
		}
	}
	admins = append(admins, target)
	if err := m.save(ctx, cc, "add "+identity.StorageForm(target), admins); err != nil {
		return err
	}
	return cc.Send(ctx, "✅ sudo added = "+joinNumbers(admins))
}

func (m *sudoModule) remove(ctx context.Context, cc *domain.CommandContext) error {
	target, ok := sudoTarget(cc)
	if !ok {
		return cc.Send(ctx, "❌ Provide a valid number or reply to a user.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	admins, err := m.current(ctx)
	if err != nil {
		return err
	}
	kept := admins[:0:0]
	for _, a := range admins {
		if a != target {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(admins) {
		return cc.Send(ctx, "❌ Not found in sudo list.")
	}
	if err := m.save(ctx, cc, "remove "+identity.StorageForm(target), kept); err != nil {
		return err
	}
	if len(kept) == 0 {
		return cc.Send(ctx, "✅ sudo list is now empty.")
	}
	return cc.Send(ctx, "✅ sudo updated = "+joinNumbers(kept))
}

func (m *sudoModule) current(ctx context.Context) ([]domain.Identity, error) {
	values, err := m.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sudo list: %w", err)
	}
	return config.ParseIdentityList(values[domain.KeySudo]), nil
}

func (m *sudoModule) save(ctx context.Context, cc *domain.CommandContext, change string, admins []domain.Identity) error {
	if err := m.store.Set(ctx, domain.KeySudo, config.FormatIdentityList(admins)); err != nil {
		return fmt.Errorf("write sudo list: %w", err)
	}
	m.audit(ctx, domain.AuditEntry{
		Action:   "sudo_changed",
		Command:  change,
		Identity: cc.Identity.String(),
		ChatID:   cc.Chat.ID,
		Result:   "updated",
	})
	return nil
}

// sudoTarget takes the target from the command argument, falling back to the
// author of the quoted message. A bare number belongs to the invoker's
// network: Telegram user ids on Telegram, phone numbers everywhere else.
func sudoTarget(cc *domain.CommandContext) (domain.Identity, bool) {
	var target domain.Identity
	switch {
	case cc.Arg(1) != "":
		target = domain.Identity(cc.Arg(1) + "@" + numberServer(cc.Identity))
	case cc.Event.QuotedParticipant != "":
		target = identity.Canonical(cc.Event.QuotedParticipant, cc.Event.Via)
	default:
		return "", false
	}
	return target, validTarget(target)
}

// numberServer is the server of invoker when its ids are numeric and not
// phone numbers.
func numberServer(invoker domain.Identity) string {
	server := invoker.Server()
	if server == "" || server == identity.PrimaryServer || !numericUser.MatchString(invoker.User()) {
		return identity.PrimaryServer
	}
	return server
}

func validTarget(id domain.Identity) bool {
	if id.Server() == identity.PrimaryServer {
		return phoneNumber.MatchString(id.User())
	}
	return numericUser.MatchString(id.User())
}

func joinNumbers(ids []domain.Identity) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = identity.StorageForm(id)
	}
	return strings.Join(parts, ", ")
}

func auditFunc(deps Deps) func(ctx context.Context, entry domain.AuditEntry) {
	if deps.Audit == nil {
		return func(context.Context, domain.AuditEntry) {}
	}
	return deps.Audit.Record
}
