package domain

import "strings"

// Identity is the canonical "user@server" form of a conversation participant.
// Use identity.Canonical to build one from a raw reference.
type Identity string

// User returns the part before "@".
func (id Identity) User() string {
	s := string(id)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

// Server returns the part after "@", or "" when there is none.
func (id Identity) Server() string {
	s := string(id)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func (id Identity) IsZero() bool { return id == "" }

func (id Identity) String() string { return string(id) }
