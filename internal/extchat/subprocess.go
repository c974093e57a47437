package extchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/crosstalk-ai/crosstalk/internal/event"
	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// readBufferSize is the chunk size for draining pty output.
const readBufferSize = 4096

// SubprocessSession drives a CLI agent under a pseudo-terminal. The child is
// spawned lazily on the first send and its output is re-emitted on the event
// bus as streaming updates.
type SubprocessSession struct {
	mu      sync.Mutex
	session *types.ChatSession
	meta    *types.SubprocessMetadata

	controller ProcessController
	terminal   types.TerminalConfig
	proc       PTYProcess

	log zerolog.Logger
}

// NewSubprocess creates a fresh subprocess-surface session. workDir must be
// inside a registered project root; the caller validates that.
func NewSubprocess(sessionID, model, workDir string, maxTurns int, controller ProcessController, terminal types.TerminalConfig) *SubprocessSession {
	meta := &types.SubprocessMetadata{
		TurnCounter: types.TurnCounter{MaxTurns: maxTurns},
		Model:       model,
		WorkDir:     workDir,
	}
	now := nowMillis()
	session := &types.ChatSession{
		ID:       sessionID,
		Surface:  types.SurfaceSubprocess,
		State:    types.StateActive,
		Metadata: meta,
		Time:     types.SessionTime{Created: now, Updated: now},
	}
	return &SubprocessSession{
		session:    session,
		meta:       meta,
		controller: controller,
		terminal:   terminal,
		log:        logging.ForSession("extchat", sessionID),
	}
}

func restoreSubprocess(record *types.ChatSession, controller ProcessController, terminal types.TerminalConfig) (*SubprocessSession, error) {
	meta, ok := record.Metadata.(*types.SubprocessMetadata)
	if !ok {
		return nil, fmt.Errorf("session %s: metadata is not subprocess metadata", record.ID)
	}
	return &SubprocessSession{
		session:    record,
		meta:       meta,
		controller: controller,
		terminal:   terminal,
		log:        logging.ForSession("extchat", record.ID),
	}, nil
}

func (s *SubprocessSession) ID() string { return s.session.ID }

// Send records the user message, counts the turn, and then writes the text
// to the child's terminal. A dead or missing pty downgrades delivery to a
// logged warning; the recorded message stands either way.
func (s *SubprocessSession) Send(ctx context.Context, text string) (*SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	if s.session.State.Terminated() || s.meta.Exhausted() {
		s.releaseLocked()
		setState(s.session, types.StateTerminated, now)
		return &SendResult{State: types.StateTerminated}, nil
	}

	if err := s.launchIfNeededLocked(ctx); err != nil {
		// Record anyway; the surface being unlaunchable is a delivery
		// failure, not a recording failure.
		s.log.Warn().Err(err).Msg("failed to launch terminal subprocess")
	}

	msg := appendUserMessage(s.session, text, now)
	s.meta.CurrentTurn++

	result := &SendResult{State: s.session.State, Message: &msg}

	if s.proc == nil {
		s.log.Warn().Msg("no live terminal, message recorded without delivery")
		return result, nil
	}
	if _, err := s.proc.Write([]byte(text + "\n")); err != nil {
		s.log.Warn().Err(err).Msg("terminal write failed, message recorded without delivery")
		return result, nil
	}
	result.Delivered = true
	return result, nil
}

// launchIfNeededLocked spawns the child exactly once per live handle.
func (s *SubprocessSession) launchIfNeededLocked(ctx context.Context) error {
	if s.proc != nil {
		return nil
	}
	if s.terminal.Command == "" {
		return fmt.Errorf("no terminal command configured")
	}

	proc, err := s.controller.SpawnPTY(ctx, s.terminal.Command, s.terminal.Args, s.terminal.Env, s.meta.WorkDir)
	if err != nil {
		return err
	}
	s.proc = proc
	s.meta.PID = proc.PID()
	s.meta.InstanceID = ulid.Make().String()
	s.session.Time.Updated = nowMillis()
	s.log.Info().Int("pid", s.meta.PID).Str("instance", s.meta.InstanceID).Msg("terminal subprocess started")

	evt := event.NewChatUpdated(s.session.ID, event.MetadataUpdated)
	evt.Session = s.session
	event.Publish(evt)

	go s.readLoop(proc)
	return nil
}

// readLoop drains the pty and republishes output as streaming updates. When
// the child exits the session transitions to terminated and the handle is
// cleared.
func (s *SubprocessSession) readLoop(proc PTYProcess) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := proc.Read(buf)
		if n > 0 {
			evt := event.NewChatUpdated(s.session.ID, event.AIResponseStreaming)
			evt.Delta = string(buf[:n])
			event.Publish(evt)
		}
		if err != nil {
			s.onExit(proc)
			return
		}
	}
}

func (s *SubprocessSession) onExit(proc PTYProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A newer handle may already have replaced this one.
	if s.proc != proc {
		return
	}
	s.log.Info().Int("pid", s.meta.PID).Msg("terminal subprocess exited")
	s.proc = nil
	s.meta.PID = 0
	s.meta.InstanceID = ""
	setState(s.session, types.StateTerminated, nowMillis())
}

func (s *SubprocessSession) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	setState(s.session, types.StateTerminated, nowMillis())
	return nil
}

// releaseLocked kills any live child and clears the process handle fields.
// A terminated session never keeps its ExternalProcessHandle.
func (s *SubprocessSession) releaseLocked() {
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			s.log.Warn().Err(err).Msg("failed to kill terminal subprocess")
		}
		s.proc = nil
	}
	s.meta.PID = 0
	s.meta.InstanceID = ""
}

func (s *SubprocessSession) Serialize() *types.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(s.session)
}

// Cleanup releases the pty without changing session state. The persisted
// record keeps its handle fields; a later restore discovers the dead pty on
// the next send and degrades to record-only delivery.
func (s *SubprocessSession) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			s.log.Warn().Err(err).Msg("cleanup: failed to kill terminal subprocess")
		}
		s.proc = nil
	}
	return nil
}
