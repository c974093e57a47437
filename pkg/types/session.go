// Package types provides the core data types for the crosstalk server.
package types

import (
	"encoding/json"
	"fmt"
)

// Surface identifies the channel through which a session talks to a model.
type Surface string

const (
	SurfaceAPI        Surface = "api"
	SurfaceSubprocess Surface = "terminal-subprocess"
	SurfaceWindow     Surface = "terminal-window"
	SurfaceWeb        Surface = "web"
	SurfaceApp        Surface = "app"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateActive        SessionState = "active"
	StateGenerating    SessionState = "active:generating"
	StateAwaitingInput SessionState = "active:awaiting_input"
	StateTerminated    SessionState = "terminated"
)

// Terminated reports whether the state is the absorbing terminal state.
func (s SessionState) Terminated() bool {
	return s == StateTerminated
}

// ChatSession is the durable unit of conversation.
// Messages are append-only; insertion order is conversation order.
type ChatSession struct {
	ID       string          `json:"id"`
	Surface  Surface         `json:"surface"`
	State    SessionState    `json:"state"`
	Messages []ChatMessage   `json:"messages"`
	Metadata SessionMetadata `json:"metadata"`
	Script   *ScriptLink     `json:"script,omitempty"`
	Time     SessionTime     `json:"time"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// ScriptLink records the provenance of a session created from a prompt script.
// The core never mutates it.
type ScriptLink struct {
	Path     string `json:"path"`
	Hash     string `json:"hash,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

// MarshalJSON flattens the metadata union alongside a surface tag so a
// record can be decoded without knowing its variant up front.
func (s ChatSession) MarshalJSON() ([]byte, error) {
	type alias ChatSession
	aux := struct {
		alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: alias(s)}

	meta, err := marshalMetadata(s.Metadata)
	if err != nil {
		return nil, err
	}
	aux.Metadata = meta
	return json.Marshal(aux)
}

// UnmarshalJSON selects the metadata variant by the session's surface tag.
func (s *ChatSession) UnmarshalJSON(data []byte) error {
	type alias ChatSession
	aux := struct {
		*alias
		Metadata json.RawMessage `json:"metadata"`
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	meta, err := unmarshalMetadata(s.Surface, aux.Metadata)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.ID, err)
	}
	s.Metadata = meta
	return nil
}
