package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/cloudwego/eino/schema"

	"github.com/crosstalk-ai/crosstalk/internal/event"
	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// consumeStream drains one completion stream, emitting streaming events for
// each text delta and accumulating any tool calls the model produced.
func (e *Engine) consumeStream(ctx context.Context, stream *provider.CompletionStream) (string, []types.PendingToolCall, error) {
	var content string
	accumulators := map[string]*toolCallAccumulator{}
	order := []string{}

	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}

		if msg.Content != "" {
			content += msg.Content

			evt := event.NewChatUpdated(e.session.ID, event.AIResponseStreaming)
			evt.Delta = msg.Content
			event.Publish(evt)
		}

		// Chunked deltas share an accumulator through their stream index.
		// Complete calls arrive without an index and are distinct per id.
		for _, tc := range msg.ToolCalls {
			var key string
			switch {
			case tc.Index != nil:
				key = "idx:" + strconv.Itoa(*tc.Index)
			case tc.ID != "":
				key = "id:" + tc.ID
			default:
				key = "pos:" + strconv.Itoa(len(order))
			}
			acc, ok := accumulators[key]
			if !ok {
				acc = &toolCallAccumulator{}
				accumulators[key] = acc
				order = append(order, key)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args += tc.Function.Arguments
		}
	}

	calls := make([]types.PendingToolCall, 0, len(order))
	for _, key := range order {
		acc := accumulators[key]
		callID := acc.id
		if callID == "" {
			callID = newID()
		}
		input := acc.args
		if input == "" {
			input = "{}"
		}
		calls = append(calls, types.PendingToolCall{
			CallID:   callID,
			ToolName: acc.name,
			Input:    json.RawMessage(input),
		})
	}
	return content, calls, nil
}

type toolCallAccumulator struct {
	id   string
	name string
	args string
}

// buildRequest converts the session log into a provider completion request.
func (e *Engine) buildRequest() *provider.CompletionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	messages := make([]*schema.Message, 0, len(e.session.Messages))
	for i := range e.session.Messages {
		messages = append(messages, toSchemaMessage(&e.session.Messages[i]))
	}
	req := &provider.CompletionRequest{
		Model:    e.meta.Model.ModelID,
		Messages: messages,
	}
	if len(e.meta.Tools) > 0 {
		req.Tools = e.runner.ToolInfos(e.meta.Tools)
	}
	return req
}

func toSchemaMessage(msg *types.ChatMessage) *schema.Message {
	out := &schema.Message{Content: msg.Text()}
	switch msg.Role {
	case types.RoleUser:
		out.Role = schema.User
	case types.RoleAssistant:
		out.Role = schema.Assistant
		for _, part := range msg.Parts {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
				ID: tp.CallID,
				Function: schema.FunctionCall{
					Name:      tp.ToolName,
					Arguments: string(tp.Input),
				},
			})
		}
	case types.RoleTool:
		out.Role = schema.Tool
		for _, part := range msg.Parts {
			tp, ok := part.(*types.ToolPart)
			if !ok {
				continue
			}
			out.ToolCallID = tp.CallID
			if tp.Output != nil {
				out.Content = *tp.Output
			}
			if tp.Error != nil {
				out.Content = *tp.Error
			}
			break
		}
	case types.RoleSystem:
		out.Role = schema.System
	default:
		out.Role = schema.User
	}
	return out
}
