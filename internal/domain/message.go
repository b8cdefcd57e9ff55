package domain

import "time"

// MessageContent holds the text-bearing fields a transport may deliver.
// Only one of them is normally set; Text picks the first non-empty one.
type MessageContent struct {
	Conversation    string `json:"conversation,omitempty"`
	ExtendedText    string `json:"extended_text,omitempty"`
	ImageCaption    string `json:"image_caption,omitempty"`
	VideoCaption    string `json:"video_caption,omitempty"`
	DocumentCaption string `json:"document_caption,omitempty"`
	ListReplyRowID  string `json:"list_reply_row_id,omitempty"`
	ButtonReplyID   string `json:"button_reply_id,omitempty"`
	TemplateReplyID string `json:"template_reply_id,omitempty"`
}

// Text returns the message body using a fixed fallback order:
// plain conversation, extended text, media captions, then interactive
// reply selections.
func (c MessageContent) Text() string {
	for _, s := range []string{
		c.Conversation,
		c.ExtendedText,
		c.ImageCaption,
		c.VideoCaption,
		c.DocumentCaption,
		c.ListReplyRowID,
		c.ButtonReplyID,
		c.TemplateReplyID,
	} {
		if s != "" {
			return s
		}
	}
	return ""
}

// InboundMessage is a single event delivered by a transport. It is treated as
// an immutable value once published on the bus.
type InboundMessage struct {
	ID                string // stable across redeliveries
	Transport         string
	ChatID            string
	Group             bool
	Sender            string // raw sender reference, may be aliased
	SenderAlt         string // alternate reference for the same sender, if the transport knows one
	Participant       string // participant context (group author or relayed participant)
	QuotedParticipant string // author of the quoted message, if any
	PushName          string
	FromAgent         bool // sent from the agent's own account
	Content           MessageContent
	Timestamp         time.Time

	// Via is the originating transport. Replies are sent through it.
	Via Endpoint `json:"-"`
}

// OutboundMessage is a reply or notification sent through an Endpoint.
type OutboundMessage struct {
	Text    string
	QuoteID string // message id to quote; empty for a plain send
}
