// Package identity canonicalizes the sender references delivered by
// transports into stable domain.Identity values.
package identity

import (
	"strings"

	"triger/internal/domain"
)

const (
	PrimaryServer = "s.whatsapp.net"
	LegacyServer  = "c.us"
	AliasServer   = "lid"
	GroupServer   = "g.us"
)

// AliasLookup maps a secondary-scheme id to a primary numeric id.
type AliasLookup interface {
	LookupAlias(alias string) (string, bool)
}

// Canonical returns the canonical identity for raw. Device and agent
// suffixes are dropped, legacy servers are rewritten, bare numbers get the
// primary server, and aliased ids are mapped through aliases. An alias with
// no known mapping degrades to its numeric part on the primary server.
// aliases may be nil.
func Canonical(raw string, aliases AliasLookup) domain.Identity {
	id, _ := canonical(raw, aliases)
	return id
}

func canonical(raw string, aliases AliasLookup) (domain.Identity, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	user, server, ok := strings.Cut(raw, "@")
	if !ok {
		digits := Digits(raw)
		if digits == "" {
			return domain.Identity(strings.ToLower(raw)), false
		}
		return domain.Identity(digits + "@" + PrimaryServer), false
	}

	user = bareUser(user)
	server = strings.ToLower(server)

	switch server {
	case LegacyServer:
		server = PrimaryServer
	case AliasServer:
		if aliases != nil {
			if pn, found := aliases.LookupAlias(user); found {
				if mapped, _ := canonical(pn, nil); mapped != "" && mapped.Server() != AliasServer {
					return mapped, false
				}
			}
		}
		return domain.Identity(user + "@" + PrimaryServer), true
	}
	return domain.Identity(user + "@" + server), false
}

// Parse reads an identity from a config value: a full id, or a phone number
// in any punctuation ("+1 (555) 010-0000").
func Parse(value string) domain.Identity {
	return Canonical(value, nil)
}

// StorageForm is the inverse of Parse for persisted settings: primary-server
// identities are stored as bare numbers, everything else verbatim.
func StorageForm(id domain.Identity) string {
	if id.Server() == PrimaryServer {
		return id.User()
	}
	return string(id)
}

// IsGroupChat reports whether chatID denotes a group conversation.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(strings.ToLower(chatID), "@"+GroupServer)
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// bareUser drops the ":device" and "_agent" suffixes of a user part.
func bareUser(user string) string {
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, '_'); i >= 0 {
		user = user[:i]
	}
	return user
}
