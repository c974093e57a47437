package types

import (
	"encoding/json"
	"fmt"
)

// SessionMetadata is the per-surface metadata union. Each surface carries its
// own variant so variant-specific fields are never optional on a record that
// cannot have them.
type SessionMetadata interface {
	// MetadataSurface returns the surface this variant belongs to.
	MetadataSurface() Surface

	// Turns returns the shared turn counter for mutation by the core.
	Turns() *TurnCounter
}

// TurnCounter tracks turn consumption against a budget.
// CurrentTurn only ever increases while the session is not terminated.
type TurnCounter struct {
	CurrentTurn int `json:"currentTurn"`
	MaxTurns    int `json:"maxTurns"`
}

// Exhausted reports whether the budget has been consumed.
func (t *TurnCounter) Exhausted() bool {
	return t.MaxTurns > 0 && t.CurrentTurn >= t.MaxTurns
}

// APIMetadata is the metadata variant for streaming API sessions.
type APIMetadata struct {
	TurnCounter

	Model ModelRef `json:"model"`

	// WorkDir is where tool calls for this session execute.
	WorkDir string `json:"workDir,omitempty"`

	// Tools bound on the first turn. Binding after turn zero is a usage error.
	Tools []string `json:"tools,omitempty"`

	// Pending tool calls awaiting user confirmation. Present only while the
	// session state is active:awaiting_input.
	Pending []PendingToolCall `json:"pending,omitempty"`

	// Confirmations recorded for this session, in arrival order.
	Confirmations []ToolConfirmation `json:"confirmations,omitempty"`

	// AllowRules created by yes_always confirmations.
	AllowRules []AllowRule `json:"allowRules,omitempty"`
}

func (m *APIMetadata) MetadataSurface() Surface { return SurfaceAPI }
func (m *APIMetadata) Turns() *TurnCounter     { return &m.TurnCounter }

// SubprocessMetadata is the metadata variant for pseudo-terminal sessions.
type SubprocessMetadata struct {
	TurnCounter

	// Model is the external CLI model identifier, e.g. "cli/demo".
	Model   string `json:"model"`
	WorkDir string `json:"workDir"`

	// Process handle fields; cleared on terminate.
	PID        int    `json:"pid,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}

func (m *SubprocessMetadata) MetadataSurface() Surface { return SurfaceSubprocess }
func (m *SubprocessMetadata) Turns() *TurnCounter      { return &m.TurnCounter }

// Live reports whether a process handle is currently held.
func (m *SubprocessMetadata) Live() bool {
	return m.PID != 0 || m.InstanceID != ""
}

// WindowMetadata is the metadata variant for OS terminal window sessions.
type WindowMetadata struct {
	TurnCounter

	Model   string `json:"model"`
	WorkDir string `json:"workDir"`
	PID     int    `json:"pid,omitempty"`
}

func (m *WindowMetadata) MetadataSurface() Surface { return SurfaceWindow }
func (m *WindowMetadata) Turns() *TurnCounter      { return &m.TurnCounter }

// WebMetadata is the metadata variant for web and app sessions. These are
// tracking-only; the actual interaction happens outside the system boundary.
type WebMetadata struct {
	TurnCounter

	Model string `json:"model"`
	URL   string `json:"url,omitempty"`
}

func (m *WebMetadata) MetadataSurface() Surface { return SurfaceWeb }
func (m *WebMetadata) Turns() *TurnCounter      { return &m.TurnCounter }

// NewMetadata returns the zero metadata variant for a surface.
func NewMetadata(surface Surface) (SessionMetadata, error) {
	switch surface {
	case SurfaceAPI:
		return &APIMetadata{}, nil
	case SurfaceSubprocess:
		return &SubprocessMetadata{}, nil
	case SurfaceWindow:
		return &WindowMetadata{}, nil
	case SurfaceWeb, SurfaceApp:
		return &WebMetadata{}, nil
	}
	return nil, fmt.Errorf("unknown surface: %q", surface)
}

func marshalMetadata(meta SessionMetadata) (json.RawMessage, error) {
	if meta == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(meta)
}

func unmarshalMetadata(surface Surface, data json.RawMessage) (SessionMetadata, error) {
	meta, err := NewMetadata(surface)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return meta, nil
	}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s metadata: %w", surface, err)
	}
	return meta, nil
}
