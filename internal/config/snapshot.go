package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"triger/internal/domain"
	"triger/internal/identity"
)

const (
	DefaultPrefix  = "!"
	DefaultBotName = "Triger"
)

// SnapshotSource builds a fresh domain.ConfigSnapshot from the config store.
// It keeps no cache: every Current call reads the store, so a change made by
// one command is visible to the next dispatch.
type SnapshotSource struct {
	store domain.ConfigStore
}

func NewSnapshotSource(store domain.ConfigStore) *SnapshotSource {
	return &SnapshotSource{store: store}
}

// Current reads the store and returns the parsed snapshot.
func (s *SnapshotSource) Current(ctx context.Context) (domain.ConfigSnapshot, error) {
	values, err := s.store.Get(ctx)
	if err != nil {
		return domain.ConfigSnapshot{}, fmt.Errorf("read config store: %w", err)
	}
	return ParseSnapshot(values), nil
}

// ParseSnapshot interprets raw settings. Unknown keys are kept in Values.
func ParseSnapshot(values map[string]string) domain.ConfigSnapshot {
	snap := domain.ConfigSnapshot{
		Owner:    identity.Parse(values[domain.KeyOwner]),
		Admins:   ParseIdentityList(values[domain.KeySudo]),
		Prefixes: ParsePrefixes(values[domain.KeyPrefix]),
		BotName:  strings.TrimSpace(values[domain.KeyBotName]),
		Values:   make(map[string]string, len(values)),
	}
	if snap.BotName == "" {
		snap.BotName = DefaultBotName
	}
	if logs, err := strconv.ParseBool(strings.TrimSpace(values[domain.KeyLogs])); err == nil {
		snap.LogMessages = logs
	}
	for k, v := range values {
		snap.Values[k] = v
	}
	return snap
}

// ParsePrefixes splits a comma separated prefix list, dropping empty and
// repeated entries. An empty result yields the default prefix.
func ParsePrefixes(raw string) []string {
	var prefixes []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		prefixes = append(prefixes, p)
	}
	if len(prefixes) == 0 {
		return []string{DefaultPrefix}
	}
	return prefixes
}

// ParseIdentityList splits a comma separated list of numbers or ids.
func ParseIdentityList(raw string) []domain.Identity {
	var ids []domain.Identity
	seen := make(map[domain.Identity]bool)
	for _, part := range strings.Split(raw, ",") {
		id := identity.Parse(part)
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// FormatIdentityList is the inverse of ParseIdentityList.
func FormatIdentityList(ids []domain.Identity) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, identity.StorageForm(id))
	}
	return strings.Join(parts, ",")
}
