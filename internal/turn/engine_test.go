package turn

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/internal/toolrun"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// fakeGenerator replays canned responses, one per CreateCompletion call, and
// records every request it sees. With block set it hangs until the context is
// cancelled.
type fakeGenerator struct {
	responses []*schema.Message
	requests  []*provider.CompletionRequest
	calls     int
	block     bool
}

func (g *fakeGenerator) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	g.requests = append(g.requests, req)
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	reader := schema.StreamReaderFromArray([]*schema.Message{g.responses[idx]})
	return provider.NewCompletionStream(reader), nil
}

func textResponse(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func toolCallResponse(callID, toolName, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       callID,
			Function: schema.FunctionCall{Name: toolName, Arguments: args},
		}},
	}
}

// fakeRunner applies the confirmation policy without running real tools. It
// rejects confirmations naming calls outside the pending set, as the real
// runner does.
type fakeRunner struct {
	confirmable map[string]bool
	executed    []string
	lastWorkDir string
}

func (r *fakeRunner) RequiresConfirmation(toolName string) bool {
	return r.confirmable[toolName]
}

func (r *fakeRunner) ToolInfos(names []string) []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, &schema.ToolInfo{Name: name})
	}
	return infos
}

func (r *fakeRunner) Execute(
	ctx context.Context,
	pending []types.PendingToolCall,
	confirmations []types.ToolConfirmation,
	rules []types.AllowRule,
	execCtx toolrun.Context,
) (*toolrun.Outcome, error) {
	r.lastWorkDir = execCtx.WorkDir

	known := map[string]bool{}
	for _, call := range pending {
		known[call.CallID] = true
	}
	byCall := map[string]types.ConfirmOutcome{}
	for _, c := range confirmations {
		if !known[c.CallID] {
			return nil, &toolrun.UnknownCallError{CallID: c.CallID}
		}
		byCall[c.CallID] = c.Outcome
	}
	allowed := map[string]bool{}
	for _, rule := range rules {
		allowed[rule.ToolName] = true
	}

	outcome := &toolrun.Outcome{Status: toolrun.StatusCompleted}
	for _, call := range pending {
		decision, confirmed := byCall[call.CallID]
		switch {
		case decision == types.ConfirmNo:
			outcome.Results = append(outcome.Results, toolrun.CallResult{
				CallID: call.CallID, ToolName: call.ToolName, Rejected: true,
			})
		case confirmed || allowed[call.ToolName] || !r.confirmable[call.ToolName]:
			r.executed = append(r.executed, call.CallID)
			outcome.Results = append(outcome.Results, toolrun.CallResult{
				CallID: call.CallID, ToolName: call.ToolName, Output: "ok",
			})
		default:
			outcome.StillPending = append(outcome.StillPending, call)
		}
	}
	if len(outcome.StillPending) > 0 {
		outcome.Status = toolrun.StatusAwaitingConfirmations
	}
	return outcome, nil
}

func newTestEngine(gen Generator, runner ToolRunner, maxTurns int, opts ...Option) *Engine {
	return NewEngine("test-session", types.ModelRef{ProviderID: "anthropic", ModelID: "test"}, maxTurns, gen, runner, "", opts...)
}

func TestSubmitTurnCompletes(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{textResponse("hello there")}}
	engine := newTestEngine(gen, &fakeRunner{}, 10)

	res, err := engine.SubmitTurn(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, types.StateActive, res.State)

	record := engine.Serialize()
	require.Len(t, record.Messages, 2)
	assert.Equal(t, types.RoleUser, record.Messages[0].Role)
	assert.Equal(t, "hi", record.Messages[0].Text())
	assert.Equal(t, types.RoleAssistant, record.Messages[1].Role)
	assert.Equal(t, "hello there", record.Messages[1].Text())
	assert.Equal(t, 1, record.Metadata.Turns().CurrentTurn)
}

func TestBudgetCheckedBeforeMutation(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{textResponse("ok")}}
	engine := newTestEngine(gen, &fakeRunner{}, 1)

	res, err := engine.SubmitTurn(context.Background(), "first", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	before := len(engine.Serialize().Messages)

	res, err = engine.SubmitTurn(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBudgetExhausted, res.Outcome)
	assert.Equal(t, types.StateTerminated, res.State)

	record := engine.Serialize()
	assert.Len(t, record.Messages, before, "exhausted budget must not append")
	assert.Equal(t, types.StateTerminated, record.State)
	assert.Equal(t, 1, record.Metadata.Turns().CurrentTurn)
}

func TestToolBindingOnlyOnFirstTurn(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{textResponse("ok")}}
	engine := newTestEngine(gen, &fakeRunner{}, 10, WithTools([]string{"bash"}))

	// Rebinding while no turn has run yet is fine.
	_, err := engine.SubmitTurn(context.Background(), "first", []string{"bash", "echo"})
	require.NoError(t, err)

	_, err = engine.SubmitTurn(context.Background(), "second", []string{"readfile"})
	assert.ErrorIs(t, err, ErrToolsAfterFirstTurn)
}

func TestToolCallRequiresConfirmation(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		toolCallResponse("call-1", "bash", `{"command":"ls"}`),
		textResponse("done"),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	res, err := engine.SubmitTurn(context.Background(), "list files", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmations, res.Outcome)
	assert.Equal(t, types.StateAwaitingInput, res.State)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "call-1", res.Pending[0].CallID)
	assert.Empty(t, runner.executed)

	res, err = engine.ConfirmToolCall(context.Background(), "call-1", types.ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"call-1"}, runner.executed)

	record := engine.Serialize()
	meta := record.Metadata.(*types.APIMetadata)
	assert.Empty(t, meta.Pending)
	assert.Empty(t, meta.AllowRules, "plain yes must not add an allow rule")
}

func TestYesAlwaysAddsExactlyOneAllowRule(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		toolCallResponse("call-1", "bash", `{"command":"ls"}`),
		textResponse("done"),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	_, err := engine.SubmitTurn(context.Background(), "list files", nil)
	require.NoError(t, err)

	res, err := engine.ConfirmToolCall(context.Background(), "call-1", types.ConfirmYesAlways)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	meta := engine.Serialize().Metadata.(*types.APIMetadata)
	require.Len(t, meta.AllowRules, 1)
	assert.Equal(t, "bash", meta.AllowRules[0].ToolName)
	assert.NotZero(t, meta.AllowRules[0].Time)

	// The rule survives a persistence round trip and auto-approves the
	// next matching call.
	restored, err := Restore(engine.Serialize(), gen, runner, "")
	require.NoError(t, err)
	restoredMeta := restored.Serialize().Metadata.(*types.APIMetadata)
	require.Len(t, restoredMeta.AllowRules, 1)
	assert.Equal(t, meta.AllowRules[0], restoredMeta.AllowRules[0])

	gen.responses = []*schema.Message{
		toolCallResponse("call-2", "bash", `{"command":"pwd"}`),
		textResponse("done again"),
	}
	gen.calls = 0
	res, err = restored.SubmitTurn(context.Background(), "where am I", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome, "allow rule should skip confirmation")
	assert.Contains(t, runner.executed, "call-2")
}

func TestRejectedCallRecordsRejection(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		toolCallResponse("call-1", "bash", `{"command":"rm -rf /"}`),
		textResponse("understood"),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	_, err := engine.SubmitTurn(context.Background(), "clean up", nil)
	require.NoError(t, err)

	res, err := engine.ConfirmToolCall(context.Background(), "call-1", types.ConfirmNo)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Empty(t, runner.executed)

	var rejected *types.ToolPart
	for _, msg := range engine.Serialize().Messages {
		for _, part := range msg.Parts {
			if tp, ok := part.(*types.ToolPart); ok && tp.State == "rejected" {
				rejected = tp
			}
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, "call-1", rejected.CallID)
}

func TestConfirmUnknownCallIsUsageError(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{textResponse("ok")}}
	engine := newTestEngine(gen, &fakeRunner{}, 10)

	_, err := engine.ConfirmToolCall(context.Background(), "no-such-call", types.ConfirmYes)
	var unknown *toolrun.UnknownCallError
	assert.ErrorAs(t, err, &unknown)
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		toolCallResponse("call-1", "bash", `{"command":"ls"}`),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	_, err := engine.SubmitTurn(context.Background(), "list files", nil)
	require.NoError(t, err)

	first := engine.Serialize()
	restored, err := Restore(first, gen, runner, "")
	require.NoError(t, err)
	second := restored.Serialize()

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestAbortMidGeneration(t *testing.T) {
	gen := &fakeGenerator{block: true}
	engine := newTestEngine(gen, &fakeRunner{}, 10)

	go func() {
		time.Sleep(50 * time.Millisecond)
		engine.Abort()
	}()

	res, err := engine.SubmitTurn(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, types.StateActive, res.State)

	record := engine.Serialize()
	require.Len(t, record.Messages, 1, "no partial assistant message may land")
	assert.Equal(t, types.RoleUser, record.Messages[0].Role)
	assert.Equal(t, types.StateActive, record.State)
}

func multiToolCallResponse(calls ...schema.ToolCall) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ToolCalls: calls}
}

func TestBoundToolsReachProvider(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{textResponse("ok")}}
	engine := newTestEngine(gen, &fakeRunner{}, 10)

	_, err := engine.SubmitTurn(context.Background(), "hi", []string{"bash", "echo"})
	require.NoError(t, err)

	require.NotEmpty(t, gen.requests)
	req := gen.requests[0]
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "bash", req.Tools[0].Name)
	assert.Equal(t, "echo", req.Tools[1].Name)

	// A session with no bound tools advertises none.
	bare := &fakeGenerator{responses: []*schema.Message{textResponse("ok")}}
	engine = newTestEngine(bare, &fakeRunner{}, 10)
	_, err = engine.SubmitTurn(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.NotEmpty(t, bare.requests)
	assert.Empty(t, bare.requests[0].Tools)
}

func TestTwoCompleteToolCallsStayDistinct(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		multiToolCallResponse(
			schema.ToolCall{ID: "call-1", Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":"true"}`}},
			schema.ToolCall{ID: "call-2", Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":"false"}`}},
		),
		textResponse("done"),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	res, err := engine.SubmitTurn(context.Background(), "run both", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmations, res.Outcome)
	require.Len(t, res.Pending, 2)
	assert.Equal(t, "call-1", res.Pending[0].CallID)
	assert.JSONEq(t, `{"command":"true"}`, string(res.Pending[0].Input))
	assert.Equal(t, "call-2", res.Pending[1].CallID)
	assert.JSONEq(t, `{"command":"false"}`, string(res.Pending[1].Input))
}

func TestConfirmationsResolveOneCallAtATime(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		multiToolCallResponse(
			schema.ToolCall{ID: "call-1", Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":"true"}`}},
			schema.ToolCall{ID: "call-2", Function: schema.FunctionCall{Name: "bash", Arguments: `{"command":"false"}`}},
		),
		textResponse("done"),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	_, err := engine.SubmitTurn(context.Background(), "run both", nil)
	require.NoError(t, err)

	res, err := engine.ConfirmToolCall(context.Background(), "call-1", types.ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmations, res.Outcome)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, "call-2", res.Pending[0].CallID)
	assert.Equal(t, []string{"call-1"}, runner.executed)

	res, err = engine.ConfirmToolCall(context.Background(), "call-2", types.ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"call-1", "call-2"}, runner.executed)

	meta := engine.Serialize().Metadata.(*types.APIMetadata)
	assert.Empty(t, meta.Pending)
	assert.Empty(t, meta.Confirmations)
}

func TestSubmitTurnRejectedWhileAwaitingConfirmation(t *testing.T) {
	gen := &fakeGenerator{responses: []*schema.Message{
		toolCallResponse("call-1", "bash", `{"command":"ls"}`),
	}}
	runner := &fakeRunner{confirmable: map[string]bool{"bash": true}}
	engine := newTestEngine(gen, runner, 10)

	_, err := engine.SubmitTurn(context.Background(), "list files", nil)
	require.NoError(t, err)

	_, err = engine.SubmitTurn(context.Background(), "never mind", nil)
	assert.ErrorIs(t, err, ErrAwaitingConfirmations)

	record := engine.Serialize()
	assert.Equal(t, types.StateAwaitingInput, record.State)
	assert.Equal(t, 1, record.Metadata.Turns().CurrentTurn)
	meta := record.Metadata.(*types.APIMetadata)
	require.Len(t, meta.Pending, 1)
	assert.Equal(t, "call-1", meta.Pending[0].CallID)
}

func TestWorkDirSurvivesRestore(t *testing.T) {
	responses := []*schema.Message{
		toolCallResponse("call-1", "echo", `{"text":"hi"}`),
		textResponse("done"),
	}
	gen := &fakeGenerator{responses: responses}
	runner := &fakeRunner{}
	engine := NewEngine("s1", types.ModelRef{ProviderID: "anthropic", ModelID: "test"}, 10, gen, runner, "/proj/app")

	_, err := engine.SubmitTurn(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "/proj/app", runner.lastWorkDir)

	record := engine.Serialize()
	meta := record.Metadata.(*types.APIMetadata)
	assert.Equal(t, "/proj/app", meta.WorkDir)

	restoredRunner := &fakeRunner{}
	restored, err := Restore(record, &fakeGenerator{responses: responses}, restoredRunner, "")
	require.NoError(t, err)

	_, err = restored.SubmitTurn(context.Background(), "again", nil)
	require.NoError(t, err)
	assert.Equal(t, "/proj/app", restoredRunner.lastWorkDir)
}

func TestRestoreRejectsWrongSurface(t *testing.T) {
	record := &types.ChatSession{ID: "x", Surface: types.SurfaceWeb, Metadata: &types.WebMetadata{}}
	_, err := Restore(record, &fakeGenerator{}, &fakeRunner{}, "")
	assert.ErrorIs(t, err, ErrNotAPISession)
}
