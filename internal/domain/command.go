package domain

import "context"

// PermissionMode controls who may invoke a command.
type PermissionMode string

const (
	// PermissionRestricted allows only the agent's account and the owner.
	PermissionRestricted PermissionMode = "restricted"
	// PermissionOpen additionally allows delegated admins.
	PermissionOpen PermissionMode = "open"
)

// Scope limits the kind of chat a command may run in.
type Scope string

const (
	ScopeAny    Scope = ""
	ScopeGroup  Scope = "group-only"
	ScopeDirect Scope = "direct-only"
)

// Handler runs a matched and authorized command. The returned error is only
// logged and reported; it never stops the dispatcher.
type Handler func(ctx context.Context, cc *CommandContext) error

// CommandDescriptor describes one registered command.
type CommandDescriptor struct {
	Name        string // used in logs and menus; defaults to the pattern's first word
	Pattern     string // anchored, case-insensitive regular expression over the prefix-stripped body
	Description string
	Category    string
	Permission  PermissionMode
	Scope       Scope
	Handler     Handler
}

// Chat describes the conversation a command was invoked from.
type Chat struct {
	ID       string
	Group    bool
	SelfChat bool // the agent's direct chat with itself
}

// CommandContext is passed to a Handler.
type CommandContext struct {
	DispatchID string
	Identity   Identity
	Chat       Chat
	Event      InboundMessage
	Captures   []string // capture groups 1..n; unmatched groups are ""
	Body       string   // text after the prefix
	Prefix     string   // the prefix that was used
	Snapshot   ConfigSnapshot
}

// Arg returns capture group i (1-based), or "" when out of range.
func (cc *CommandContext) Arg(i int) string {
	if i < 1 || i > len(cc.Captures) {
		return ""
	}
	return cc.Captures[i-1]
}

// Send posts text into the originating chat.
func (cc *CommandContext) Send(ctx context.Context, text string) error {
	return cc.Event.Via.Send(ctx, cc.Chat.ID, OutboundMessage{Text: text})
}

// Reply posts text into the originating chat, quoting the triggering message.
func (cc *CommandContext) Reply(ctx context.Context, text string) error {
	return cc.Event.Via.Send(ctx, cc.Chat.ID, OutboundMessage{Text: text, QuoteID: cc.Event.ID})
}
