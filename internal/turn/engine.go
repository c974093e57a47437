// Package turn drives one conversational turn for an API-backed session:
// streaming generation, tool-call confirmation, cancellation, and the
// session's turn budget.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/crosstalk-ai/crosstalk/internal/event"
	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/internal/toolrun"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

const (
	// MaxGenerationSteps bounds the tool-execution loop within one turn.
	MaxGenerationSteps = 25
	// MaxRetries is the maximum number of retries for provider errors.
	MaxRetries = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime is the maximum total time for retries.
	RetryMaxElapsedTime = 2 * time.Minute
)

// Outcome classifies the result of a turn.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeAwaitingConfirmations Outcome = "awaiting_confirmations"
	OutcomeCancelled             Outcome = "cancelled"
	OutcomeBudgetExhausted       Outcome = "budget_exhausted"
)

// Result is the caller-visible outcome of SubmitTurn or ConfirmToolCall.
type Result struct {
	Outcome Outcome
	State   types.SessionState

	// Messages appended to the session log during this call.
	Messages []types.ChatMessage

	// Pending tool calls awaiting confirmation, when Outcome is
	// OutcomeAwaitingConfirmations.
	Pending []types.PendingToolCall
}

// Usage errors. These are programmer/caller mistakes and surface immediately.
var (
	ErrToolsAfterFirstTurn   = errors.New("tools may only be bound on the first turn")
	ErrTurnInFlight          = errors.New("a turn is already in flight for this session")
	ErrAwaitingConfirmations = errors.New("pending tool calls must be confirmed before the next turn")
	ErrNotAPISession         = errors.New("turn engine requires an api-surface session")
)

// ToolRunner is the external tool-execution capability.
type ToolRunner interface {
	RequiresConfirmation(toolName string) bool
	ToolInfos(names []string) []*schema.ToolInfo
	Execute(
		ctx context.Context,
		pending []types.PendingToolCall,
		confirmations []types.ToolConfirmation,
		rules []types.AllowRule,
		execCtx toolrun.Context,
	) (*toolrun.Outcome, error)
}

// Generator is the model-invocation capability consumed by the engine.
type Generator interface {
	CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error)
}

// Engine owns one API-backed session's conversation state.
// All exported methods are safe for concurrent use; the engine serializes
// turns so only one generation is in flight per session.
type Engine struct {
	mu      sync.Mutex
	session *types.ChatSession
	meta    *types.APIMetadata

	generator Generator
	runner    ToolRunner
	workDir   string

	// cancel aborts the in-flight generation, if any.
	cancel     context.CancelFunc
	generating bool

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTools binds a tool set at creation, before any turn has run.
func WithTools(tools []string) Option {
	return func(e *Engine) {
		if len(tools) > 0 {
			e.meta.Tools = append([]string(nil), tools...)
		}
	}
}

// NewEngine creates an engine for a fresh API session.
func NewEngine(sessionID string, model types.ModelRef, maxTurns int, gen Generator, runner ToolRunner, workDir string, opts ...Option) *Engine {
	meta := &types.APIMetadata{
		TurnCounter: types.TurnCounter{MaxTurns: maxTurns},
		Model:       model,
		WorkDir:     workDir,
	}
	now := time.Now().UnixMilli()
	session := &types.ChatSession{
		ID:       sessionID,
		Surface:  types.SurfaceAPI,
		State:    types.StateActive,
		Metadata: meta,
		Time:     types.SessionTime{Created: now, Updated: now},
	}
	return newEngine(session, meta, gen, runner, workDir, opts...)
}

// Restore builds an engine from a persisted session record.
// Confirmation and allow-rule timestamps survive the round trip.
func Restore(record *types.ChatSession, gen Generator, runner ToolRunner, workDir string, opts ...Option) (*Engine, error) {
	if record.Surface != types.SurfaceAPI {
		return nil, ErrNotAPISession
	}
	meta, ok := record.Metadata.(*types.APIMetadata)
	if !ok {
		return nil, fmt.Errorf("session %s: metadata is not api metadata", record.ID)
	}
	if workDir == "" {
		workDir = meta.WorkDir
	}
	return newEngine(record, meta, gen, runner, workDir, opts...), nil
}

func newEngine(session *types.ChatSession, meta *types.APIMetadata, gen Generator, runner ToolRunner, workDir string, opts ...Option) *Engine {
	e := &Engine{
		session:   session,
		meta:      meta,
		generator: gen,
		runner:    runner,
		workDir:   workDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SessionID returns the session id.
func (e *Engine) SessionID() string {
	return e.session.ID
}

// State returns the session's current state.
func (e *Engine) State() types.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

// Serialize returns a deep copy of the session record, pending confirmations
// and allow rules included. Serializing does not mutate the session, so
// serialize-restore-serialize round trips are idempotent.
func (e *Engine) Serialize() *types.ChatSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.session)
}

// SubmitTurn appends the user message and drives one generation turn.
//
// The turn budget is checked before any mutation: an exhausted budget
// transitions to terminated and returns a normal budget-exhausted result with
// the message log untouched. Binding tools is only legal while no turn has
// occurred yet; binding the same set twice on turn zero is fine. While tool
// calls await confirmation only ConfirmToolCall may advance the session.
func (e *Engine) SubmitTurn(ctx context.Context, input string, toolNames []string) (*Result, error) {
	e.mu.Lock()
	if e.generating {
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}

	if e.session.State.Terminated() || e.meta.Exhausted() {
		e.setStateLocked(types.StateTerminated)
		e.mu.Unlock()
		return &Result{Outcome: OutcomeBudgetExhausted, State: types.StateTerminated}, nil
	}

	if e.session.State == types.StateAwaitingInput {
		e.mu.Unlock()
		return nil, ErrAwaitingConfirmations
	}

	if len(toolNames) > 0 {
		if e.meta.CurrentTurn > 0 {
			e.mu.Unlock()
			return nil, ErrToolsAfterFirstTurn
		}
		e.meta.Tools = append([]string(nil), toolNames...)
	}

	userMsg := types.NewTextMessage(newID(), types.RoleUser, input, e.now().UnixMilli())
	e.appendMessageLocked(userMsg)
	e.meta.CurrentTurn++

	genCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.generating = true
	e.setStateLocked(types.StateGenerating)
	e.mu.Unlock()

	result, err := e.generate(genCtx, []types.ChatMessage{userMsg})

	e.mu.Lock()
	e.generating = false
	e.cancel = nil
	e.mu.Unlock()
	cancel()

	return result, err
}

// ConfirmToolCall records a confirmation for one pending call and executes
// every pending call the accumulated policy now allows. A yes_always outcome
// additionally registers a standing allow rule for the tool name.
func (e *Engine) ConfirmToolCall(ctx context.Context, callID string, outcome types.ConfirmOutcome) (*Result, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("invalid confirmation outcome: %q", outcome)
	}

	e.mu.Lock()
	if e.generating {
		e.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	if e.session.State != types.StateAwaitingInput {
		e.mu.Unlock()
		return nil, &toolrun.UnknownCallError{CallID: callID}
	}

	call, ok := e.findPendingLocked(callID)
	if !ok {
		e.mu.Unlock()
		return nil, &toolrun.UnknownCallError{CallID: callID}
	}

	now := e.now().UnixMilli()
	e.meta.Confirmations = append(e.meta.Confirmations, types.ToolConfirmation{
		CallID:  callID,
		Outcome: outcome,
		Time:    now,
	})
	if outcome == types.ConfirmYesAlways {
		e.addAllowRuleLocked(call.ToolName, now)
	}
	e.touchLocked()

	pending := append([]types.PendingToolCall(nil), e.meta.Pending...)
	confirmations := append([]types.ToolConfirmation(nil), e.meta.Confirmations...)
	rules := append([]types.AllowRule(nil), e.meta.AllowRules...)
	e.mu.Unlock()

	execOutcome, err := e.runner.Execute(ctx, pending, confirmations, rules, toolrun.Context{
		SessionID: e.session.ID,
		WorkDir:   e.workDir,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	e.mu.Lock()
	for _, res := range execOutcome.Results {
		msg := toolResultMessage(res, e.now().UnixMilli())
		e.appendMessageLocked(msg)
		result.Messages = append(result.Messages, msg)
	}

	if execOutcome.Status == toolrun.StatusAwaitingConfirmations {
		// Confirmations for calls that just ran (or were rejected) are spent;
		// keeping them would name ids outside the next Execute's pending set.
		e.meta.Pending = execOutcome.StillPending
		e.meta.Confirmations = confirmationsFor(e.meta.Confirmations, execOutcome.StillPending)
		e.setStateLocked(types.StateAwaitingInput)
		result.Outcome = OutcomeAwaitingConfirmations
		result.State = types.StateAwaitingInput
		result.Pending = append([]types.PendingToolCall(nil), execOutcome.StillPending...)
		e.mu.Unlock()
		return result, nil
	}

	// All confirmations resolved: clear pending state and resume generation
	// with the tool results as input. The turn counter is not incremented
	// again; this is the same logical turn continuing.
	e.meta.Pending = nil
	e.meta.Confirmations = nil

	genCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.generating = true
	e.setStateLocked(types.StateGenerating)
	e.mu.Unlock()

	genResult, err := e.generate(genCtx, result.Messages)

	e.mu.Lock()
	e.generating = false
	e.cancel = nil
	e.mu.Unlock()
	cancel()

	if err != nil {
		return nil, err
	}
	genResult.Messages = append(result.Messages, genResult.Messages...)
	return genResult, err
}

// Terminate aborts any in-flight generation and marks the session
// terminated. Further turns report a budget-exhausted result.
func (e *Engine) Terminate() {
	e.Abort()
	e.mu.Lock()
	e.setStateLocked(types.StateTerminated)
	e.mu.Unlock()
}

// Cleanup aborts any in-flight generation so the engine can be dropped from
// memory. The session state is untouched.
func (e *Engine) Cleanup() error {
	e.Abort()
	return nil
}

// Abort signals the active generation to stop as soon as possible. The
// in-flight turn reports a cancelled outcome and the session returns to
// active; aborting with no turn in flight is a no-op.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// generate runs the generation loop until the model stops calling tools, a
// confirmation is required, or the context is cancelled.
func (e *Engine) generate(ctx context.Context, _ []types.ChatMessage) (*Result, error) {
	log := logging.ForSession("turn", e.session.ID)
	result := &Result{}

	event.Publish(event.NewChatUpdated(e.session.ID, event.AIResponseStarted))

	retry := newRetryBackoff(ctx)

	for step := 0; step < MaxGenerationSteps; step++ {
		if err := ctx.Err(); err != nil {
			return e.finishCancelled(result), nil
		}

		req := e.buildRequest()
		stream, err := e.generator.CreateCompletion(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return e.finishCancelled(result), nil
			}
			next := retry.NextBackOff()
			if next == backoff.Stop {
				e.returnToActive()
				return nil, fmt.Errorf("generation failed: %w", err)
			}
			log.Warn().Err(err).Dur("retry_in", next).Msg("provider call failed, retrying")
			time.Sleep(next)
			continue
		}

		text, calls, streamErr := e.consumeStream(ctx, stream)
		stream.Close()

		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) || ctx.Err() != nil {
				// No partial assistant message reaches the permanent log.
				return e.finishCancelled(result), nil
			}
			next := retry.NextBackOff()
			if next == backoff.Stop {
				e.returnToActive()
				return nil, fmt.Errorf("stream failed: %w", streamErr)
			}
			log.Warn().Err(streamErr).Dur("retry_in", next).Msg("stream failed, retrying")
			time.Sleep(next)
			continue
		}
		retry.Reset()

		assistantMsg := assistantMessage(text, calls, e.now().UnixMilli())

		e.mu.Lock()
		e.appendMessageLocked(assistantMsg)
		e.mu.Unlock()
		result.Messages = append(result.Messages, assistantMsg)

		if len(calls) == 0 {
			e.returnToActive()
			result.Outcome = OutcomeCompleted
			result.State = types.StateActive
			event.Publish(event.NewChatUpdated(e.session.ID, event.AIResponseCompleted))
			return result, nil
		}

		needConfirm, autoRun := e.partitionCalls(calls)

		if len(needConfirm) > 0 {
			e.mu.Lock()
			e.meta.Pending = append(e.meta.Pending, needConfirm...)
			e.setStateLocked(types.StateAwaitingInput)
			pending := append([]types.PendingToolCall(nil), e.meta.Pending...)
			e.mu.Unlock()

			result.Outcome = OutcomeAwaitingConfirmations
			result.State = types.StateAwaitingInput
			result.Pending = pending
			event.Publish(event.NewChatUpdated(e.session.ID, event.AIResponseCompleted))
			return result, nil
		}

		// Every call is auto-allowed: execute and feed results back in.
		execOutcome, err := e.runner.Execute(ctx, autoRun, nil, e.allowRules(), toolrun.Context{
			SessionID: e.session.ID,
			WorkDir:   e.workDir,
		})
		if err != nil {
			e.returnToActive()
			return nil, err
		}

		e.mu.Lock()
		for _, res := range execOutcome.Results {
			msg := toolResultMessage(res, e.now().UnixMilli())
			e.appendMessageLocked(msg)
			result.Messages = append(result.Messages, msg)
		}
		e.mu.Unlock()
	}

	e.returnToActive()
	return nil, fmt.Errorf("generation exceeded %d steps", MaxGenerationSteps)
}

// partitionCalls splits tool calls into confirmation-required and auto-run
// sets, consulting the standing allow rules.
func (e *Engine) partitionCalls(calls []types.PendingToolCall) (needConfirm, autoRun []types.PendingToolCall) {
	rules := e.allowRules()
	for _, call := range calls {
		if !e.runner.RequiresConfirmation(call.ToolName) || allowedBy(rules, call) {
			autoRun = append(autoRun, call)
			continue
		}
		needConfirm = append(needConfirm, call)
	}
	return needConfirm, autoRun
}

func allowedBy(rules []types.AllowRule, call types.PendingToolCall) bool {
	for _, rule := range rules {
		if rule.ToolName != call.ToolName {
			continue
		}
		if rule.Pattern == "" || toolrun.MatchesPattern(call.Input, rule.Pattern) {
			return true
		}
	}
	return false
}

func (e *Engine) allowRules() []types.AllowRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.AllowRule(nil), e.meta.AllowRules...)
}

func (e *Engine) finishCancelled(result *Result) *Result {
	e.returnToActive()
	result.Outcome = OutcomeCancelled
	result.State = types.StateActive
	return result
}

func (e *Engine) returnToActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.State.Terminated() && e.session.State != types.StateAwaitingInput {
		e.setStateLocked(types.StateActive)
	}
}

// addAllowRuleLocked registers exactly one allow rule per tool name.
func (e *Engine) addAllowRuleLocked(toolName string, now int64) {
	for _, rule := range e.meta.AllowRules {
		if rule.ToolName == toolName {
			return
		}
	}
	e.meta.AllowRules = append(e.meta.AllowRules, types.AllowRule{ToolName: toolName, Time: now})
}

// confirmationsFor keeps only the confirmations that still name a pending call.
func confirmationsFor(confirmations []types.ToolConfirmation, pending []types.PendingToolCall) []types.ToolConfirmation {
	live := make(map[string]bool, len(pending))
	for _, call := range pending {
		live[call.CallID] = true
	}
	var kept []types.ToolConfirmation
	for _, c := range confirmations {
		if live[c.CallID] {
			kept = append(kept, c)
		}
	}
	return kept
}

func (e *Engine) findPendingLocked(callID string) (types.PendingToolCall, bool) {
	for _, call := range e.meta.Pending {
		if call.CallID == callID {
			return call, true
		}
	}
	return types.PendingToolCall{}, false
}

func (e *Engine) appendMessageLocked(msg types.ChatMessage) {
	e.session.Messages = append(e.session.Messages, msg)
	e.touchLocked()

	evt := event.NewChatUpdated(e.session.ID, event.MessageAdded)
	evt.Message = &msg
	event.Publish(evt)
}

func (e *Engine) setStateLocked(state types.SessionState) {
	if e.session.State == state {
		return
	}
	e.session.State = state
	e.touchLocked()

	evt := event.NewChatUpdated(e.session.ID, event.StatusChanged)
	evt.State = state
	event.Publish(evt)
}

func (e *Engine) touchLocked() {
	e.session.Time.Updated = e.now().UnixMilli()
}

// newRetryBackoff creates an exponential backoff with jitter for provider
// retries, bounded and context-aware.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

func newID() string {
	return ulid.Make().String()
}
