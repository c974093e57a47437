package extchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// WebSession tracks a conversation happening in a web or app product. There
// is nothing to deliver to; sends are bookkeeping only.
type WebSession struct {
	mu      sync.Mutex
	session *types.ChatSession
	meta    *types.WebMetadata
}

func NewWeb(sessionID string, surface types.Surface, model, url string, maxTurns int) (*WebSession, error) {
	if surface != types.SurfaceWeb && surface != types.SurfaceApp {
		return nil, fmt.Errorf("surface %q is not a web surface", surface)
	}
	meta := &types.WebMetadata{
		TurnCounter: types.TurnCounter{MaxTurns: maxTurns},
		Model:       model,
		URL:         url,
	}
	now := nowMillis()
	session := &types.ChatSession{
		ID:       sessionID,
		Surface:  surface,
		State:    types.StateActive,
		Metadata: meta,
		Time:     types.SessionTime{Created: now, Updated: now},
	}
	return &WebSession{session: session, meta: meta}, nil
}

func restoreWeb(record *types.ChatSession) (*WebSession, error) {
	meta, ok := record.Metadata.(*types.WebMetadata)
	if !ok {
		return nil, fmt.Errorf("session %s: metadata is not web metadata", record.ID)
	}
	return &WebSession{session: record, meta: meta}, nil
}

func (s *WebSession) ID() string { return s.session.ID }

func (s *WebSession) Send(ctx context.Context, text string) (*SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if s.session.State.Terminated() || s.meta.Exhausted() {
		setState(s.session, types.StateTerminated, now)
		return &SendResult{State: types.StateTerminated}, nil
	}

	msg := appendUserMessage(s.session, text, now)
	s.meta.CurrentTurn++
	return &SendResult{State: s.session.State, Message: &msg}, nil
}

func (s *WebSession) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	setState(s.session, types.StateTerminated, nowMillis())
	return nil
}

func (s *WebSession) Serialize() *types.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(s.session)
}

func (s *WebSession) Cleanup() error { return nil }
