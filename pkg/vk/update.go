package vk

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// updateTypeNewMessage tags a long-poll record carrying a message event.
	updateTypeNewMessage = 4

	// flagOutgoing marks a message the bot itself sent.
	flagOutgoing = 2
)

// placeholder tokens that can occupy positional text slots without
// carrying message content.
var textPlaceholders = map[string]struct{}{
	"...": {},
}

// RawUpdate is one long-poll record: a positional JSON array whose first
// element is an integer type tag. Remaining element shapes vary by the
// credential type that issued the session, so they stay undecoded until
// extraction.
type RawUpdate struct {
	Type   int
	fields []json.RawMessage
}

var errNotPositional = errors.New("update is not a positional array")

func (u *RawUpdate) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return errNotPositional
	}
	if len(fields) == 0 {
		return errNotPositional
	}
	var tag int
	if err := json.Unmarshal(fields[0], &tag); err != nil {
		return errNotPositional
	}
	u.Type = tag
	u.fields = fields
	return nil
}

// Message is a normalized inbound message. ConversationID defaults to
// SenderID when the platform gives no separate conversation. MessageID
// is 0 when the update carried none.
type Message struct {
	SenderID       int64
	ConversationID int64
	Text           string
	MessageID      int64
}

// IsCommand reports whether the text starts with the command marker.
func (m Message) IsCommand() bool {
	return strings.HasPrefix(m.Text, "/")
}

// keyedPayload is the structured record a group-credential session
// delivers in the sender slot.
type keyedPayload struct {
	FromID int64  `json:"from_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
	ID     int64  `json:"id"`
}

// ExtractMessage turns one raw update into a Message, or reports false
// for anything non-actionable: wrong type tag, outgoing flag, truncated
// record, or no determinable sender.
//
// Two payload shapes exist and are told apart structurally. The
// positional shape carries the sender id as a bare integer at index 3
// and no inline text; the keyed shape carries an object there with
// named sender/text/id fields.
func ExtractMessage(u RawUpdate) (Message, bool) {
	if u.Type != updateTypeNewMessage || len(u.fields) < 4 {
		return Message{}, false
	}
	if isOutgoing(u) {
		return Message{}, false
	}

	var senderID, messageID int64
	var text string

	var bareID int64
	if err := json.Unmarshal(u.fields[3], &bareID); err == nil {
		senderID = bareID
		_ = json.Unmarshal(u.fields[1], &messageID)
	} else {
		var payload keyedPayload
		if err := json.Unmarshal(u.fields[3], &payload); err == nil {
			senderID = payload.FromID
			if senderID == 0 {
				senderID = payload.UserID
			}
			text = strings.TrimSpace(payload.Text)
			messageID = payload.ID
		}
	}

	if senderID == 0 {
		return Message{}, false
	}

	// The positional shape keeps text somewhere in the trailing fields;
	// take the last non-placeholder string.
	if text == "" {
		text = scanForText(u.fields)
	}

	return Message{
		SenderID:       senderID,
		ConversationID: senderID,
		Text:           text,
		MessageID:      messageID,
	}, true
}

func isOutgoing(u RawUpdate) bool {
	if len(u.fields) < 3 {
		return false
	}
	var flags int
	if err := json.Unmarshal(u.fields[2], &flags); err != nil {
		return false
	}
	return flags&flagOutgoing != 0
}

func scanForText(fields []json.RawMessage) string {
	for i := len(fields) - 1; i >= 0; i-- {
		var s string
		if err := json.Unmarshal(fields[i], &s); err != nil {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, placeholder := textPlaceholders[s]; placeholder {
			continue
		}
		return s
	}
	return ""
}
