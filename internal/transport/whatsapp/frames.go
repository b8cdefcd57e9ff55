package whatsapp

import (
	"encoding/json"
	"fmt"
	"time"

	"triger/internal/domain"
	"triger/internal/identity"
)

// Frame types exchanged with the bridge.
const (
	frameMessage    = "message"
	frameConnection = "connection"
	frameLIDMapping = "lid-mapping"
	frameQR         = "qr"
	frameError      = "error"
	frameAuth       = "auth"
	frameSend       = "send"
)

// Connection close reason sent by the bridge when the linked device was
// logged out. Reconnecting cannot succeed without a new pairing.
const reasonLoggedOut = 401

// frame is the envelope of every bridge message. Only the fields of the
// frame's type are set.
type frame struct {
	Type string `json:"type"`

	// message
	ID                string         `json:"id,omitempty"`
	Chat              string         `json:"chat,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	SenderAlt         string         `json:"senderAlt,omitempty"`
	Participant       string         `json:"participant,omitempty"`
	QuotedParticipant string         `json:"quotedParticipant,omitempty"`
	PushName          string         `json:"pushName,omitempty"`
	FromMe            bool           `json:"fromMe,omitempty"`
	Timestamp         int64          `json:"timestamp,omitempty"`
	Message           *messageFields `json:"message,omitempty"`

	// connection
	State  string `json:"state,omitempty"`
	Self   string `json:"self,omitempty"`
	Reason int    `json:"reason,omitempty"`

	// lid-mapping
	LID      string       `json:"lid,omitempty"`
	PN       string       `json:"pn,omitempty"`
	Mappings []lidMapping `json:"mappings,omitempty"`

	// qr, error
	QR    string `json:"qr,omitempty"`
	Error string `json:"error,omitempty"`
}

type messageFields struct {
	Conversation    string `json:"conversation,omitempty"`
	ExtendedText    string `json:"extendedText,omitempty"`
	ImageCaption    string `json:"imageCaption,omitempty"`
	VideoCaption    string `json:"videoCaption,omitempty"`
	DocumentCaption string `json:"documentCaption,omitempty"`
	ListReplyRowID  string `json:"listReplyRowId,omitempty"`
	ButtonReplyID   string `json:"buttonReplyId,omitempty"`
	TemplateReplyID string `json:"templateReplyId,omitempty"`
}

type lidMapping struct {
	LID string `json:"lid"`
	PN  string `json:"pn"`
}

type sendFrame struct {
	Type   string `json:"type"`
	To     string `json:"to"`
	Text   string `json:"text"`
	Quoted string `json:"quoted,omitempty"`
}

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func decodeFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, fmt.Errorf("decode bridge frame: %w", err)
	}
	if f.Type == "" {
		return frame{}, fmt.Errorf("decode bridge frame: missing type")
	}
	return f, nil
}

// inbound converts a message frame. ok is false for frames that carry no
// usable message.
func (f frame) inbound() (domain.InboundMessage, bool) {
	if f.ID == "" || f.Chat == "" {
		return domain.InboundMessage{}, false
	}
	msg := domain.InboundMessage{
		ID:                f.ID,
		Transport:         transportName,
		ChatID:            f.Chat,
		Group:             identity.IsGroupChat(f.Chat),
		Sender:            f.Sender,
		SenderAlt:         f.SenderAlt,
		Participant:       f.Participant,
		QuotedParticipant: f.QuotedParticipant,
		PushName:          f.PushName,
		FromAgent:         f.FromMe,
		Timestamp:         time.Now(),
	}
	if f.Timestamp > 0 {
		msg.Timestamp = time.Unix(f.Timestamp, 0)
	}
	if m := f.Message; m != nil {
		msg.Content = domain.MessageContent{
			Conversation:    m.Conversation,
			ExtendedText:    m.ExtendedText,
			ImageCaption:    m.ImageCaption,
			VideoCaption:    m.VideoCaption,
			DocumentCaption: m.DocumentCaption,
			ListReplyRowID:  m.ListReplyRowID,
			ButtonReplyID:   m.ButtonReplyID,
			TemplateReplyID: m.TemplateReplyID,
		}
	}
	return msg, true
}

// mappings returns every lid/pn pair carried by a lid-mapping frame.
func (f frame) mappings() []lidMapping {
	out := make([]lidMapping, 0, len(f.Mappings)+1)
	if f.LID != "" && f.PN != "" {
		out = append(out, lidMapping{LID: f.LID, PN: f.PN})
	}
	for _, m := range f.Mappings {
		if m.LID != "" && m.PN != "" {
			out = append(out, m)
		}
	}
	return out
}
