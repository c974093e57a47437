package turn

import (
	"encoding/json"

	"github.com/crosstalk-ai/crosstalk/internal/toolrun"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// assistantMessage builds the assistant message for one generation step:
// a text part for the streamed content plus a pending tool part per call.
func assistantMessage(text string, calls []types.PendingToolCall, createdAt int64) types.ChatMessage {
	msg := types.ChatMessage{
		ID:   newID(),
		Role: types.RoleAssistant,
		Time: types.MessageTime{Created: createdAt},
	}
	if text != "" {
		msg.Parts = append(msg.Parts, &types.TextPart{Type: types.PartTypeText, Text: text})
	}
	for _, call := range calls {
		msg.Parts = append(msg.Parts, &types.ToolPart{
			Type:     types.PartTypeTool,
			CallID:   call.CallID,
			ToolName: call.ToolName,
			Input:    call.Input,
			State:    "pending",
		})
	}
	return msg
}

// toolResultMessage converts one execution result into a tool-role message.
func toolResultMessage(res toolrun.CallResult, createdAt int64) types.ChatMessage {
	part := &types.ToolPart{
		Type:     types.PartTypeTool,
		CallID:   res.CallID,
		ToolName: res.ToolName,
	}
	switch {
	case res.Rejected:
		part.State = "rejected"
		rejected := "tool call rejected by user"
		part.Output = &rejected
	case res.Err != nil:
		part.State = "error"
		errText := res.Err.Error()
		part.Error = &errText
	default:
		part.State = "completed"
		output := res.Output
		part.Output = &output
	}

	return types.ChatMessage{
		ID:    newID(),
		Role:  types.RoleTool,
		Parts: []types.Part{part},
		Time:  types.MessageTime{Created: createdAt},
	}
}

// cloneSession deep-copies a session record through its JSON form, so the
// copy is exactly what a persisted record would restore to.
func cloneSession(session *types.ChatSession) *types.ChatSession {
	data, err := json.Marshal(session)
	if err != nil {
		// The session is built from marshal-safe types; this cannot fail
		// outside of programmer error.
		panic(err)
	}
	clone := &types.ChatSession{}
	if err := json.Unmarshal(data, clone); err != nil {
		panic(err)
	}
	return clone
}
