// Package command holds the command registry and the matcher that maps a
// message body to a registered command.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"triger/internal/domain"
)

// ErrInvalidDescriptor is wrapped by every registration failure.
var ErrInvalidDescriptor = errors.New("invalid command descriptor")

// Registrar is what command modules need to add their commands.
type Registrar interface {
	Register(desc domain.CommandDescriptor) error
}

type entry struct {
	desc domain.CommandDescriptor
	re   *regexp.Regexp
}

// Registry holds commands in registration order. It is written while
// modules load and read concurrently during dispatch.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register validates desc, compiles its pattern and appends it. On error
// the registry is unchanged.
func (r *Registry) Register(desc domain.CommandDescriptor) error {
	re, err := compile(desc)
	if err != nil {
		return err
	}
	if desc.Name == "" {
		desc.Name = defaultName(desc.Pattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.desc.Name == desc.Name {
			r.logger.Warn("command name registered twice, earlier registration matches first", "name", desc.Name)
			break
		}
	}
	r.entries = append(r.entries, entry{desc: desc, re: re})
	r.logger.Debug("registered command", "name", desc.Name, "pattern", desc.Pattern)
	return nil
}

// Validate checks desc without registering it.
func Validate(desc domain.CommandDescriptor) error {
	_, err := compile(desc)
	return err
}

func compile(desc domain.CommandDescriptor) (*regexp.Regexp, error) {
	if desc.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", ErrInvalidDescriptor)
	}
	if desc.Handler == nil {
		return nil, fmt.Errorf("%w: %q has no handler", ErrInvalidDescriptor, desc.Pattern)
	}
	switch desc.Permission {
	case domain.PermissionRestricted, domain.PermissionOpen:
	case "":
		return nil, fmt.Errorf("%w: %q has no permission mode", ErrInvalidDescriptor, desc.Pattern)
	default:
		return nil, fmt.Errorf("%w: %q has unknown permission mode %q", ErrInvalidDescriptor, desc.Pattern, desc.Permission)
	}
	switch desc.Scope {
	case domain.ScopeAny, domain.ScopeGroup, domain.ScopeDirect:
	default:
		return nil, fmt.Errorf("%w: %q has unknown scope %q", ErrInvalidDescriptor, desc.Pattern, desc.Scope)
	}

	re, err := regexp.Compile(`(?i)^(?:` + desc.Pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDescriptor, desc.Pattern, err)
	}
	return re, nil
}

var leadingWord = regexp.MustCompile(`^[A-Za-z0-9_]+`)

func defaultName(pattern string) string {
	if w := leadingWord.FindString(pattern); w != "" {
		return w
	}
	return pattern
}

// Match is a command selected for a body.
type Match struct {
	Command  domain.CommandDescriptor
	Captures []string // groups 1..n, "" for groups that did not participate
}

// Match returns the first registered command whose pattern matches body.
func (r *Registry) Match(body string) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if m := e.re.FindStringSubmatch(body); m != nil {
			return Match{Command: e.desc, Captures: m[1:]}, true
		}
	}
	return Match{}, false
}

// MatchAll returns every matching command in registration order.
func (r *Registry) MatchAll(body string) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []Match
	for _, e := range r.entries {
		if m := e.re.FindStringSubmatch(body); m != nil {
			matches = append(matches, Match{Command: e.desc, Captures: m[1:]})
		}
	}
	return matches
}

// List returns the registered descriptors in registration order.
func (r *Registry) List() []domain.CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CommandDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
