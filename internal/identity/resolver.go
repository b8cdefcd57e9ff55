package identity

import (
	"log/slog"

	"triger/internal/domain"
)

// Reference is the sender-related part of an inbound message.
type Reference struct {
	Sender      string
	SenderAlt   string
	Participant string
	Group       bool
	FromAgent   bool
}

// ReferenceOf extracts the Reference of msg.
func ReferenceOf(msg domain.InboundMessage) Reference {
	return Reference{
		Sender:      msg.Sender,
		SenderAlt:   msg.SenderAlt,
		Participant: msg.Participant,
		Group:       msg.Group,
		FromAgent:   msg.FromAgent,
	}
}

// Resolver decides who effectively sent a message.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve returns the canonical identity of the effective sender.
//
// Precedence:
//   - group chat: the participant; without one, the agent for self-sent
//     messages, else the raw sender.
//   - direct chat, self-sent: the agent, unless a participant context names
//     someone else. A participant that resolves to the agent itself yields
//     the owner (or the agent when no owner is configured).
//   - direct chat from someone else: the alternate reference when present,
//     else the raw sender.
//
// Resolve never fails; unmapped aliases degrade to their numeric part.
func (r *Resolver) Resolve(ref Reference, aliases AliasLookup, agent, owner domain.Identity) domain.Identity {
	canon := func(raw string) domain.Identity {
		id, degraded := canonical(raw, aliases)
		if degraded {
			r.logger.Debug("alias not mapped, using degraded identity", "raw", raw, "identity", id)
		}
		return id
	}

	if ref.Group {
		if ref.Participant != "" {
			return canon(ref.Participant)
		}
		if ref.FromAgent && !agent.IsZero() {
			return agent
		}
		return canon(ref.Sender)
	}

	if ref.FromAgent {
		if ref.Participant != "" {
			if p := canon(ref.Participant); !p.IsZero() && p != agent {
				return p
			}
			if !owner.IsZero() {
				return owner
			}
		}
		if !agent.IsZero() {
			return agent
		}
		return canon(ref.Sender)
	}

	if ref.SenderAlt != "" {
		if id := canon(ref.SenderAlt); !id.IsZero() {
			return id
		}
	}
	return canon(ref.Sender)
}
