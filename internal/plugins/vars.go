package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"triger/internal/domain"
)

// Keys with these prefixes hold credentials and are never shown.
var hiddenPrefixes = []string{"AUTH", "SESSION"}

func hiddenKey(key string) bool {
	for _, p := range hiddenPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

type varsModule struct {
	store domain.ConfigStore
	audit func(ctx context.Context, entry domain.AuditEntry)
}

func varCommands(deps Deps) []domain.CommandDescriptor {
	m := &varsModule{store: deps.Store, audit: auditFunc(deps)}
	return []domain.CommandDescriptor{
		{
			Name:        "setvar",
			Pattern:     `setvar (\w+)\s*[=\s]\s*(.+)`,
			Description: "Set a variable (setvar KEY=VALUE)",
			Category:    "config",
			Permission:  domain.PermissionRestricted,
			Handler:     m.set,
		},
		{
			Name:        "getvar",
			Pattern:     `getvar (\w+)`,
			Description: "Show a variable",
			Category:    "config",
			Permission:  domain.PermissionOpen,
			Handler:     m.get,
		},
		{
			Name:        "delvar",
			Pattern:     `delvar (\w+)`,
			Description: "Delete a variable",
			Category:    "config",
			Permission:  domain.PermissionRestricted,
			Handler:     m.del,
		},
		{
			Name:        "allvar",
			Pattern:     `allvar`,
			Description: "List all variables",
			Category:    "config",
			Permission:  domain.PermissionOpen,
			Handler:     m.all,
		},
	}
}

func (m *varsModule) set(ctx context.Context, cc *domain.CommandContext) error {
	key := strings.ToUpper(cc.Arg(1))
	value := strings.TrimSpace(cc.Arg(2))
	if err := m.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("setvar %s: %w", key, err)
	}
	m.audit(ctx, domain.AuditEntry{
		Action:   "var_set",
		Command:  key,
		Identity: cc.Identity.String(),
		ChatID:   cc.Chat.ID,
		Result:   "updated",
	})
	if hiddenKey(key) {
		return cc.Send(ctx, fmt.Sprintf("✅ Set %s", key))
	}
	return cc.Send(ctx, fmt.Sprintf("✅ Set %s = %s", key, value))
}

func (m *varsModule) get(ctx context.Context, cc *domain.CommandContext) error {
	key := strings.ToUpper(cc.Arg(1))
	value, ok := cc.Snapshot.Values[key]
	if !ok || hiddenKey(key) {
		return cc.Send(ctx, fmt.Sprintf("❌ %s not found", key))
	}
	return cc.Send(ctx, fmt.Sprintf("📦 %s=%s", key, value))
}

func (m *varsModule) del(ctx context.Context, cc *domain.CommandContext) error {
	key := strings.ToUpper(cc.Arg(1))
	if _, ok := cc.Snapshot.Values[key]; !ok {
		return cc.Send(ctx, fmt.Sprintf("❌ %s not found", key))
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delvar %s: %w", key, err)
	}
	m.audit(ctx, domain.AuditEntry{
		Action:   "var_deleted",
		Command:  key,
		Identity: cc.Identity.String(),
		ChatID:   cc.Chat.ID,
		Result:   "updated",
	})
	return cc.Send(ctx, fmt.Sprintf("🗑️ Deleted %s", key))
}

func (m *varsModule) all(ctx context.Context, cc *domain.CommandContext) error {
	keys := make([]string, 0, len(cc.Snapshot.Values))
	for k := range cc.Snapshot.Values {
		if !hiddenKey(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return cc.Send(ctx, "No variables set.")
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("📦 Variables:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s=%s", k, cc.Snapshot.Values[k])
	}
	return cc.Send(ctx, sb.String())
}
