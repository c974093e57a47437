package event

import (
	"time"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// UpdateType classifies a session update.
type UpdateType string

const (
	MessageAdded        UpdateType = "MESSAGE_ADDED"
	StatusChanged       UpdateType = "STATUS_CHANGED"
	MetadataUpdated     UpdateType = "METADATA_UPDATED"
	AIResponseStarted   UpdateType = "AI_RESPONSE_STARTED"
	AIResponseStreaming UpdateType = "AI_RESPONSE_STREAMING"
	AIResponseCompleted UpdateType = "AI_RESPONSE_COMPLETED"
)

// ChatUpdated is the event carried on the bus for every session mutation.
type ChatUpdated struct {
	SessionID  string     `json:"sessionId"`
	UpdateType UpdateType `json:"updateType"`

	// Message is set for MESSAGE_ADDED.
	Message *types.ChatMessage `json:"message,omitempty"`

	// State is set for STATUS_CHANGED.
	State types.SessionState `json:"state,omitempty"`

	// Delta is set for AI_RESPONSE_STREAMING.
	Delta string `json:"delta,omitempty"`

	// Session is the full snapshot at emission time, when available.
	Session *types.ChatSession `json:"session,omitempty"`

	Time time.Time `json:"time"`
}

// NewChatUpdated builds an event stamped with the current time.
func NewChatUpdated(sessionID string, updateType UpdateType) ChatUpdated {
	return ChatUpdated{
		SessionID:  sessionID,
		UpdateType: updateType,
		Time:       time.Now(),
	}
}
