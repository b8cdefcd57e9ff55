package security

import (
	"context"
	"log/slog"

	"triger/internal/domain"
)

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Rule names the step of the policy that decided a request.
type Rule string

const (
	RuleScope      Rule = "scope"
	RuleSelfChat   Rule = "self-chat"
	RuleRestricted Rule = "restricted"
	RuleOpen       Rule = "open"
)

// Request is one authorization question: may Identity run Command in Chat?
type Request struct {
	Identity  domain.Identity
	FromAgent bool
	Chat      domain.Chat
	Command   domain.CommandDescriptor
	Snapshot  domain.ConfigSnapshot
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Rule    Rule
	Reason  string
}

// Engine decides whether a sender may run a command.
type Engine struct {
	auditLogger AuditLogger
	logger      *slog.Logger
}

func NewEngine(auditLogger AuditLogger, logger *slog.Logger) *Engine {
	return &Engine{auditLogger: auditLogger, logger: logger}
}

// Authorize applies the policy. The command's scope is checked first and a
// mismatch denies regardless of who is asking. Then the first matching rule
// decides:
//
//  1. in the agent's self chat, the owner and delegated admins are allowed;
//  2. restricted commands allow only the agent's account and the owner;
//  3. open commands also allow delegated admins.
//
// Denials are silent towards the sender; they are logged at debug level and
// written to the audit log.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	d := decide(req)
	if !d.Allowed {
		e.logger.Debug("command denied",
			"command", req.Command.Name,
			"sender", req.Identity,
			"chat", req.Chat.ID,
			"rule", d.Rule,
			"reason", d.Reason,
		)
		e.Record(ctx, domain.AuditEntry{
			Action:   "command_denied",
			Command:  req.Command.Name,
			Identity: req.Identity.String(),
			ChatID:   req.Chat.ID,
			Result:   "denied",
			Details:  string(d.Rule) + ": " + d.Reason,
		})
	}
	return d
}

func decide(req Request) Decision {
	switch req.Command.Scope {
	case domain.ScopeGroup:
		if !req.Chat.Group {
			return Decision{Rule: RuleScope, Reason: "group-only command in direct chat"}
		}
	case domain.ScopeDirect:
		if req.Chat.Group {
			return Decision{Rule: RuleScope, Reason: "direct-only command in group chat"}
		}
	}

	snap := req.Snapshot
	if req.Chat.SelfChat && (snap.IsOwner(req.Identity) || snap.IsAdmin(req.Identity)) {
		return Decision{Allowed: true, Rule: RuleSelfChat}
	}

	switch req.Command.Permission {
	case domain.PermissionRestricted:
		if req.FromAgent || snap.IsOwner(req.Identity) {
			return Decision{Allowed: true, Rule: RuleRestricted}
		}
		return Decision{Rule: RuleRestricted, Reason: "sender is neither the agent nor the owner"}
	case domain.PermissionOpen:
		if req.FromAgent || snap.IsOwner(req.Identity) || snap.IsAdmin(req.Identity) {
			return Decision{Allowed: true, Rule: RuleOpen}
		}
		return Decision{Rule: RuleOpen, Reason: "sender is not the agent, the owner or an admin"}
	}
	return Decision{Rule: RuleRestricted, Reason: "unknown permission mode"}
}

// Record writes entry to the audit log. Failures are logged, not returned.
func (e *Engine) Record(ctx context.Context, entry domain.AuditEntry) {
	if e.auditLogger == nil {
		return
	}
	if err := e.auditLogger.LogAudit(ctx, entry); err != nil {
		e.logger.Warn("audit write failed", "action", entry.Action, "err", err)
	}
}
