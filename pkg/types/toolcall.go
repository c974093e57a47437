package types

import "encoding/json"

// ConfirmOutcome is a user's answer to a tool-call confirmation prompt.
type ConfirmOutcome string

const (
	ConfirmYes       ConfirmOutcome = "yes"
	ConfirmNo        ConfirmOutcome = "no"
	ConfirmYesAlways ConfirmOutcome = "yes_always"
)

// Valid reports whether the outcome is one of the known values.
func (o ConfirmOutcome) Valid() bool {
	switch o {
	case ConfirmYes, ConfirmNo, ConfirmYesAlways:
		return true
	}
	return false
}

// PendingToolCall is a tool invocation the model requested that requires
// user confirmation before execution. It lives only while the session is in
// active:awaiting_input.
type PendingToolCall struct {
	CallID   string          `json:"callID"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolConfirmation is a timestamped confirmation for one pending call.
type ToolConfirmation struct {
	CallID  string         `json:"callID"`
	Outcome ConfirmOutcome `json:"outcome"`
	Time    int64          `json:"time"`
}

// AllowRule is a standing policy, created by a yes_always confirmation, that
// authorizes future calls to a named tool without re-prompting. Pattern is
// optional and matched against the call's parsed command (bash tool only).
type AllowRule struct {
	ToolName string `json:"toolName"`
	Pattern  string `json:"pattern,omitempty"`
	Time     int64  `json:"time"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}
