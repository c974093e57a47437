// Package extchat hosts sessions whose conversation happens on an external
// surface: a CLI agent under a pseudo-terminal, an OS terminal window, or a
// web/app product the user drives directly. All variants share one small
// contract: send a message, terminate, serialize for persistence.
package extchat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crosstalk-ai/crosstalk/internal/event"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// SendResult reports what one Send call did.
type SendResult struct {
	State types.SessionState

	// Message is the user message appended to the log; nil when the turn
	// budget was already exhausted and nothing was recorded.
	Message *types.ChatMessage

	// Delivered reports whether the text reached the external surface.
	// Recording succeeds even when delivery does not.
	Delivered bool
}

// Session is an external-surface conversation.
type Session interface {
	// ID returns the session id.
	ID() string

	// Send records text as a user message and attempts delivery to the
	// surface. The message is appended and the turn counted before any
	// delivery is attempted, so a dead surface never loses the record.
	Send(ctx context.Context, text string) (*SendResult, error)

	// Terminate shuts the surface down and marks the session terminated.
	Terminate(ctx context.Context) error

	// Serialize returns a deep copy of the session record for persistence.
	Serialize() *types.ChatSession

	// Cleanup releases local resources (process handles, readers) without
	// changing the session state. Used when a session is dropped from
	// memory but not terminated.
	Cleanup() error
}

// FromRecord rebuilds the surface-appropriate session from a persisted
// record.
func FromRecord(record *types.ChatSession, controller ProcessController, terminal types.TerminalConfig) (Session, error) {
	switch record.Surface {
	case types.SurfaceSubprocess:
		return restoreSubprocess(record, controller, terminal)
	case types.SurfaceWindow:
		return restoreWindow(record, controller, terminal)
	case types.SurfaceWeb, types.SurfaceApp:
		return restoreWeb(record)
	}
	return nil, fmt.Errorf("surface %q is not an external surface", record.Surface)
}

// cloneRecord deep-copies a session record through its JSON form.
func cloneRecord(session *types.ChatSession) *types.ChatSession {
	data, err := json.Marshal(session)
	if err != nil {
		panic(err)
	}
	clone := &types.ChatSession{}
	if err := json.Unmarshal(data, clone); err != nil {
		panic(err)
	}
	return clone
}

func appendUserMessage(session *types.ChatSession, text string, now int64) types.ChatMessage {
	msg := types.NewTextMessage(ulid.Make().String(), types.RoleUser, text, now)
	session.Messages = append(session.Messages, msg)
	session.Time.Updated = now

	evt := event.NewChatUpdated(session.ID, event.MessageAdded)
	evt.Message = &msg
	event.Publish(evt)
	return msg
}

func setState(session *types.ChatSession, state types.SessionState, now int64) {
	if session.State == state {
		return
	}
	session.State = state
	session.Time.Updated = now

	evt := event.NewChatUpdated(session.ID, event.StatusChanged)
	evt.State = state
	event.Publish(evt)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
