package extchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// WindowSession opens an OS terminal window for the user to drive directly.
// The first send launches the window with the message as the initial prompt;
// there is no channel into a running window, so later sends are recorded but
// not delivered.
type WindowSession struct {
	mu      sync.Mutex
	session *types.ChatSession
	meta    *types.WindowMetadata

	controller ProcessController
	terminal   types.TerminalConfig

	log zerolog.Logger
}

func NewWindow(sessionID, model, workDir string, maxTurns int, controller ProcessController, terminal types.TerminalConfig) *WindowSession {
	meta := &types.WindowMetadata{
		TurnCounter: types.TurnCounter{MaxTurns: maxTurns},
		Model:       model,
		WorkDir:     workDir,
	}
	now := nowMillis()
	session := &types.ChatSession{
		ID:       sessionID,
		Surface:  types.SurfaceWindow,
		State:    types.StateActive,
		Metadata: meta,
		Time:     types.SessionTime{Created: now, Updated: now},
	}
	return &WindowSession{
		session:    session,
		meta:       meta,
		controller: controller,
		terminal:   terminal,
		log:        logging.ForSession("extchat", sessionID),
	}
}

func restoreWindow(record *types.ChatSession, controller ProcessController, terminal types.TerminalConfig) (*WindowSession, error) {
	meta, ok := record.Metadata.(*types.WindowMetadata)
	if !ok {
		return nil, fmt.Errorf("session %s: metadata is not window metadata", record.ID)
	}
	return &WindowSession{
		session:    record,
		meta:       meta,
		controller: controller,
		terminal:   terminal,
		log:        logging.ForSession("extchat", record.ID),
	}, nil
}

func (s *WindowSession) ID() string { return s.session.ID }

func (s *WindowSession) Send(ctx context.Context, text string) (*SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if s.session.State.Terminated() || s.meta.Exhausted() {
		setState(s.session, types.StateTerminated, now)
		return &SendResult{State: types.StateTerminated}, nil
	}

	msg := appendUserMessage(s.session, text, now)
	s.meta.CurrentTurn++
	result := &SendResult{State: s.session.State, Message: &msg}

	if s.meta.PID != 0 {
		s.log.Warn().Msg("terminal window already open, message recorded without delivery")
		return result, nil
	}
	if s.terminal.Command == "" {
		s.log.Warn().Msg("no terminal command configured, message recorded without delivery")
		return result, nil
	}

	args := append(append([]string(nil), s.terminal.Args...), text)
	pid, err := s.controller.SpawnWindow(ctx, s.terminal.Command, args, s.terminal.Env, s.meta.WorkDir)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to open terminal window, message recorded without delivery")
		return result, nil
	}
	s.meta.PID = pid
	s.session.Time.Updated = nowMillis()
	result.Delivered = true
	return result, nil
}

func (s *WindowSession) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta.PID != 0 {
		if err := s.controller.Kill(s.meta.PID); err != nil {
			s.log.Warn().Err(err).Int("pid", s.meta.PID).Msg("failed to close terminal window")
		}
		s.meta.PID = 0
	}
	setState(s.session, types.StateTerminated, nowMillis())
	return nil
}

func (s *WindowSession) Serialize() *types.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(s.session)
}

// Cleanup leaves the window alone; it belongs to the user.
func (s *WindowSession) Cleanup() error { return nil }
