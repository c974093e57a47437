// Package client is the façade over session creation, residency, message
// dispatch, and persistence. All mutation of live sessions flows through it.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/crosstalk-ai/crosstalk/internal/extchat"
	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/internal/project"
	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/internal/storage"
	"github.com/crosstalk-ai/crosstalk/internal/tool"
	"github.com/crosstalk-ai/crosstalk/internal/toolrun"
	"github.com/crosstalk-ai/crosstalk/internal/turn"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

var (
	// ErrOutsideProject rejects a working directory that is not inside any
	// registered project root.
	ErrOutsideProject = errors.New("working directory is outside every registered project")

	// ErrNotAPISession rejects an API-only operation on an external session.
	ErrNotAPISession = errors.New("operation requires an api-surface session")
)

// CreateOptions describes a session to create.
type CreateOptions struct {
	Surface types.Surface

	// Model is "provider/model" for API sessions and the terminal profile
	// name for subprocess and window sessions.
	Model string

	WorkDir string
	URL     string

	// MaxTurns overrides the configured turn budget when positive.
	MaxTurns int

	// TaskID, when set, provisions a per-task subdirectory of WorkDir and
	// runs the session there.
	TaskID string

	// Tools binds a tool set to an API session at creation.
	Tools []string
}

// SendResult is the unified outcome of sending a message to any session.
type SendResult struct {
	State    types.SessionState
	Outcome  turn.Outcome
	Messages []types.ChatMessage
	Pending  []types.PendingToolCall

	// Delivered is meaningful for external surfaces only.
	Delivered bool
}

// Client owns the session pool and the repository. It is the sole mutator of
// the residency map.
type Client struct {
	cfg        *types.Config
	repo       *storage.Sessions
	providers  *provider.Registry
	runner     *toolrun.Runner
	projects   *project.Registry
	controller extchat.ProcessController
	pool       *pool
}

// New builds a client. poolSize <= 0 falls back to the configured size, then
// to DefaultPoolCapacity.
func New(cfg *types.Config, repo *storage.Sessions, providers *provider.Registry, projects *project.Registry, controller extchat.ProcessController) *Client {
	c := &Client{
		cfg:        cfg,
		repo:       repo,
		providers:  providers,
		runner:     toolrun.NewRunner(tool.DefaultRegistry("")),
		projects:   projects,
		controller: controller,
	}
	c.pool = newPool(cfg.PoolSize, func(ctx context.Context, record *types.ChatSession) error {
		return repo.Update(ctx, record)
	})
	return c
}

// CreateSession creates, persists, and makes resident a new session.
// For process-backed surfaces the working directory must resolve inside a
// registered project root; a miss is fatal.
func (c *Client) CreateSession(ctx context.Context, opts CreateOptions) (*types.ChatSession, error) {
	id := ulid.Make().String()
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.cfg.MaxTurns
	}

	workDir := opts.WorkDir
	if workDir != "" && !c.projects.IsPathInProject(workDir) {
		return nil, fmt.Errorf("%w: %s", ErrOutsideProject, workDir)
	}
	if opts.TaskID != "" {
		var err error
		workDir, err = c.projects.ProvisionTaskDir(workDir, opts.TaskID)
		if err != nil {
			return nil, err
		}
	}

	var live resident
	switch opts.Surface {
	case types.SurfaceAPI:
		providerID, modelID := provider.ParseModelString(opts.Model)
		gen, err := c.providers.Get(providerID)
		if err != nil {
			return nil, err
		}
		live = turn.NewEngine(id, types.ModelRef{ProviderID: providerID, ModelID: modelID}, maxTurns, gen, c.runner, workDir, turn.WithTools(opts.Tools))

	case types.SurfaceSubprocess:
		if workDir == "" {
			return nil, fmt.Errorf("%w: no working directory given", ErrOutsideProject)
		}
		live = extchat.NewSubprocess(id, opts.Model, workDir, maxTurns, c.controller, c.terminalProfile(opts.Model))

	case types.SurfaceWindow:
		if workDir == "" {
			return nil, fmt.Errorf("%w: no working directory given", ErrOutsideProject)
		}
		live = extchat.NewWindow(id, opts.Model, workDir, maxTurns, c.controller, c.terminalProfile(opts.Model))

	case types.SurfaceWeb, types.SurfaceApp:
		web, err := extchat.NewWeb(id, opts.Surface, opts.Model, opts.URL, maxTurns)
		if err != nil {
			return nil, err
		}
		live = web

	default:
		return nil, fmt.Errorf("unknown surface: %q", opts.Surface)
	}

	record := live.Serialize()
	if err := c.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	if err := c.pool.put(ctx, id, live); err != nil {
		return nil, err
	}
	log := logging.ForSession("client", id)
	log.Info().Str("surface", string(opts.Surface)).Msg("session created")
	return record, nil
}

// GetSession returns the current session record, preferring the resident
// copy over the persisted one.
func (c *Client) GetSession(ctx context.Context, id string) (*types.ChatSession, error) {
	if live, ok := c.pool.get(id); ok {
		return live.Serialize(), nil
	}
	return c.repo.GetByID(ctx, id)
}

// ListSessions returns every persisted session record.
func (c *Client) ListSessions(ctx context.Context) ([]*types.ChatSession, error) {
	return c.repo.List(ctx)
}

// SendMessage dispatches text to the session, loading it into the pool
// first if needed, and persists the result.
func (c *Client) SendMessage(ctx context.Context, id, text string) (*SendResult, error) {
	live, err := c.getOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *SendResult
	switch s := live.(type) {
	case *turn.Engine:
		res, err := s.SubmitTurn(ctx, text, nil)
		if err != nil {
			return nil, err
		}
		out = &SendResult{State: res.State, Outcome: res.Outcome, Messages: res.Messages, Pending: res.Pending}
	case extchat.Session:
		res, err := s.Send(ctx, text)
		if err != nil {
			return nil, err
		}
		out = &SendResult{State: res.State, Delivered: res.Delivered}
		if res.State.Terminated() && res.Message == nil {
			out.Outcome = turn.OutcomeBudgetExhausted
		} else {
			out.Outcome = turn.OutcomeCompleted
		}
		if res.Message != nil {
			out.Messages = []types.ChatMessage{*res.Message}
		}
	default:
		return nil, fmt.Errorf("session %s has unknown live type", id)
	}

	if err := c.repo.Update(ctx, live.Serialize()); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitTurn is SendMessage for API sessions with optional first-turn tool
// binding.
func (c *Client) SubmitTurn(ctx context.Context, id, text string, tools []string) (*turn.Result, error) {
	engine, err := c.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := engine.SubmitTurn(ctx, text, tools)
	if err != nil {
		return nil, err
	}
	if err := c.repo.Update(ctx, engine.Serialize()); err != nil {
		return nil, err
	}
	return res, nil
}

// ConfirmToolCall resolves one pending tool call on an API session and
// persists the outcome.
func (c *Client) ConfirmToolCall(ctx context.Context, id, callID string, outcome types.ConfirmOutcome) (*turn.Result, error) {
	engine, err := c.engineFor(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := engine.ConfirmToolCall(ctx, callID, outcome)
	if err != nil {
		return nil, err
	}
	if err := c.repo.Update(ctx, engine.Serialize()); err != nil {
		return nil, err
	}
	return res, nil
}

// Abort cancels an in-flight generation. Aborting a session that is not
// resident or not generating is a no-op.
func (c *Client) Abort(id string) {
	live, ok := c.pool.get(id)
	if !ok {
		return
	}
	if engine, ok := live.(*turn.Engine); ok {
		engine.Abort()
	}
}

// Terminate shuts the session down, persists its final state, and releases
// it from the pool.
func (c *Client) Terminate(ctx context.Context, id string) error {
	live, err := c.getOrLoad(ctx, id)
	if err != nil {
		return err
	}

	switch s := live.(type) {
	case *turn.Engine:
		s.Terminate()
	case extchat.Session:
		if err := s.Terminate(ctx); err != nil {
			return err
		}
	}

	if err := c.repo.Update(ctx, live.Serialize()); err != nil {
		return err
	}
	c.pool.remove(id)
	return nil
}

// DeleteSession removes the session from the pool and the repository.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if live, ok := c.pool.get(id); ok {
		if err := live.Cleanup(); err != nil {
			logging.Warn().Err(err).Str("session", id).Msg("cleanup failed during delete")
		}
		c.pool.remove(id)
	}
	return c.repo.Delete(ctx, id)
}

// ResidentCount reports how many sessions are live in the pool.
func (c *Client) ResidentCount() int {
	return c.pool.len()
}

// getOrLoad returns the resident session, loading and rehydrating it from
// the repository on a miss. Loading at capacity evicts the least recently
// used resident first.
func (c *Client) getOrLoad(ctx context.Context, id string) (resident, error) {
	if live, ok := c.pool.get(id); ok {
		return live, nil
	}

	record, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var live resident
	switch record.Surface {
	case types.SurfaceAPI:
		meta, ok := record.Metadata.(*types.APIMetadata)
		if !ok {
			return nil, fmt.Errorf("session %s: metadata is not api metadata", id)
		}
		gen, err := c.providers.Get(meta.Model.ProviderID)
		if err != nil {
			return nil, err
		}
		engine, err := turn.Restore(record, gen, c.runner, c.workDirFor(record))
		if err != nil {
			return nil, err
		}
		live = engine
	default:
		session, err := extchat.FromRecord(record, c.controller, c.terminalForRecord(record))
		if err != nil {
			return nil, err
		}
		live = session
	}

	if err := c.pool.put(ctx, id, live); err != nil {
		return nil, err
	}
	return live, nil
}

func (c *Client) engineFor(ctx context.Context, id string) (*turn.Engine, error) {
	live, err := c.getOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	engine, ok := live.(*turn.Engine)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAPISession, id)
	}
	return engine, nil
}

func (c *Client) terminalProfile(name string) types.TerminalConfig {
	if c.cfg.Terminal == nil {
		return types.TerminalConfig{}
	}
	return c.cfg.Terminal[name]
}

func (c *Client) terminalForRecord(record *types.ChatSession) types.TerminalConfig {
	switch meta := record.Metadata.(type) {
	case *types.SubprocessMetadata:
		return c.terminalProfile(meta.Model)
	case *types.WindowMetadata:
		return c.terminalProfile(meta.Model)
	}
	return types.TerminalConfig{}
}

func (c *Client) workDirFor(record *types.ChatSession) string {
	switch meta := record.Metadata.(type) {
	case *types.APIMetadata:
		return meta.WorkDir
	case *types.SubprocessMetadata:
		return meta.WorkDir
	}
	return ""
}
