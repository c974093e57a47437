package toolrun

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/internal/tool"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// Status is the outcome class of an Execute call.
type Status string

const (
	StatusCompleted             Status = "completed"
	StatusAwaitingConfirmations Status = "awaiting_confirmations"
)

// CallResult is the result of executing (or rejecting) one pending call.
type CallResult struct {
	CallID   string
	ToolName string
	Output   string
	Rejected bool
	Err      error
}

// Outcome is the result of executing a batch of pending calls.
type Outcome struct {
	Status       Status
	Results      []CallResult
	StillPending []types.PendingToolCall
}

// Context carries session-scoped execution state into tools.
type Context struct {
	SessionID string
	WorkDir   string
}

// UnknownCallError reports a confirmation that names no pending call.
// It is a usage error and is surfaced to the caller immediately.
type UnknownCallError struct {
	CallID string
}

func (e *UnknownCallError) Error() string {
	return fmt.Sprintf("no pending tool call with id %s", e.CallID)
}

// Runner executes pending tool calls against the registry, applying the
// session's confirmations and allow rules as policy input.
type Runner struct {
	registry *tool.Registry
}

// NewRunner creates a runner over a tool registry.
func NewRunner(registry *tool.Registry) *Runner {
	return &Runner{registry: registry}
}

// Registry returns the underlying tool registry.
func (r *Runner) Registry() *tool.Registry {
	return r.registry
}

// ToolInfos returns the Eino tool definitions for the named tools, so a
// session's bound tool set can travel with its completion requests.
func (r *Runner) ToolInfos(names []string) []*schema.ToolInfo {
	return r.registry.Infos(names)
}

// RequiresConfirmation reports whether a call to the named tool needs a user
// confirmation before it may run. Unknown tools require confirmation so a
// hallucinated tool name can never execute silently.
func (r *Runner) RequiresConfirmation(toolName string) bool {
	t, ok := r.registry.Get(toolName)
	if !ok {
		return true
	}
	return t.RequiresConfirmation()
}

// Execute runs every pending call whose policy allows it. A call runs when a
// confirmation for its id says yes/yes_always, or an allow rule matches its
// tool name (and, for shell commands, its parsed pattern). Calls confirmed
// "no" produce rejected results. Everything else is reported still pending.
func (r *Runner) Execute(
	ctx context.Context,
	pending []types.PendingToolCall,
	confirmations []types.ToolConfirmation,
	rules []types.AllowRule,
	execCtx Context,
) (*Outcome, error) {
	byCall := make(map[string]types.ConfirmOutcome, len(confirmations))
	for _, c := range confirmations {
		byCall[c.CallID] = c.Outcome
	}

	known := make(map[string]bool, len(pending))
	for _, p := range pending {
		known[p.CallID] = true
	}
	for _, c := range confirmations {
		if !known[c.CallID] {
			return nil, &UnknownCallError{CallID: c.CallID}
		}
	}

	outcome := &Outcome{Status: StatusCompleted}

	for _, call := range pending {
		decision, confirmed := byCall[call.CallID]

		switch {
		case confirmed && decision == types.ConfirmNo:
			outcome.Results = append(outcome.Results, CallResult{
				CallID:   call.CallID,
				ToolName: call.ToolName,
				Output:   "Tool call rejected by user.",
				Rejected: true,
			})

		case confirmed, r.allowedByRule(call, rules):
			outcome.Results = append(outcome.Results, r.run(ctx, call, execCtx))

		default:
			outcome.StillPending = append(outcome.StillPending, call)
		}
	}

	if len(outcome.StillPending) > 0 {
		outcome.Status = StatusAwaitingConfirmations
	}
	return outcome, nil
}

func (r *Runner) allowedByRule(call types.PendingToolCall, rules []types.AllowRule) bool {
	for _, rule := range rules {
		if rule.ToolName != call.ToolName {
			continue
		}
		if rule.Pattern == "" {
			return true
		}
		if MatchesPattern(call.Input, rule.Pattern) {
			return true
		}
	}
	return false
}

func (r *Runner) run(ctx context.Context, call types.PendingToolCall, execCtx Context) CallResult {
	t, ok := r.registry.Get(call.ToolName)
	if !ok {
		return CallResult{
			CallID:   call.CallID,
			ToolName: call.ToolName,
			Err:      fmt.Errorf("tool not found: %s", call.ToolName),
		}
	}

	result, err := t.Execute(ctx, call.Input, &tool.Context{
		SessionID: execCtx.SessionID,
		CallID:    call.CallID,
		WorkDir:   execCtx.WorkDir,
	})
	if err != nil {
		log := logging.ForSession("toolrun", execCtx.SessionID)
		log.Error().Err(err).Str("tool", call.ToolName).Msg("tool execution failed")
		return CallResult{CallID: call.CallID, ToolName: call.ToolName, Err: err}
	}

	return CallResult{
		CallID:   call.CallID,
		ToolName: call.ToolName,
		Output:   result.Output,
	}
}
