package types

import (
	"encoding/json"
	"fmt"
)

// Role tags the author of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ChatMessage is one role-tagged utterance in a session's log.
type ChatMessage struct {
	ID    string      `json:"id"`
	Role  Role        `json:"role"`
	Parts []Part      `json:"parts"`
	Time  MessageTime `json:"time"`
	Files []FileRef   `json:"files,omitempty"`
}

// MessageTime contains timestamps for a message, in Unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// FileRef points at a file referenced by a message.
type FileRef struct {
	Path string `json:"path"`
	MIME string `json:"mime,omitempty"`
}

// NewTextMessage builds a single-text-part message.
func NewTextMessage(id string, role Role, text string, createdAt int64) ChatMessage {
	return ChatMessage{
		ID:    id,
		Role:  role,
		Parts: []Part{&TextPart{Type: PartTypeText, Text: text}},
		Time:  MessageTime{Created: createdAt},
	}
}

// Text concatenates the message's text parts.
func (m *ChatMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// UnmarshalJSON decodes the polymorphic parts list.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias ChatMessage
	aux := struct {
		*alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}
