package toolrun

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk-ai/crosstalk/internal/tool"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

func pendingCall(id, name, input string) types.PendingToolCall {
	return types.PendingToolCall{CallID: id, ToolName: name, Input: json.RawMessage(input)}
}

func testRunner() *Runner {
	reg := tool.NewRegistry()
	reg.Register(tool.NewEchoTool())
	reg.Register(tool.NewBashTool(""))
	return NewRunner(reg)
}

func TestRequiresConfirmation(t *testing.T) {
	r := testRunner()
	assert.False(t, r.RequiresConfirmation("echo"))
	assert.True(t, r.RequiresConfirmation("bash"))
	assert.True(t, r.RequiresConfirmation("no-such-tool"), "unknown tools must not run unconfirmed")
}

func TestToolInfosForBoundSet(t *testing.T) {
	r := testRunner()
	infos := r.ToolInfos([]string{"echo", "no-such-tool"})
	require.Len(t, infos, 1, "unknown ids are skipped")
	assert.Equal(t, "echo", infos[0].Name)
}

func TestExecuteConfirmedCall(t *testing.T) {
	r := testRunner()

	outcome, err := r.Execute(context.Background(),
		[]types.PendingToolCall{pendingCall("c1", "echo", `{"text":"hi"}`)},
		[]types.ToolConfirmation{{CallID: "c1", Outcome: types.ConfirmYes}},
		nil,
		Context{SessionID: "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "c1", outcome.Results[0].CallID)
	assert.False(t, outcome.Results[0].Rejected)
	assert.Contains(t, outcome.Results[0].Output, "hi")
}

func TestExecuteRejectedCall(t *testing.T) {
	r := testRunner()

	outcome, err := r.Execute(context.Background(),
		[]types.PendingToolCall{pendingCall("c1", "bash", `{"command":"rm -rf /"}`)},
		[]types.ToolConfirmation{{CallID: "c1", Outcome: types.ConfirmNo}},
		nil,
		Context{SessionID: "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Results[0].Rejected)
}

func TestExecuteLeavesUnconfirmedPending(t *testing.T) {
	r := testRunner()

	outcome, err := r.Execute(context.Background(),
		[]types.PendingToolCall{
			pendingCall("c1", "bash", `{"command":"ls"}`),
			pendingCall("c2", "bash", `{"command":"pwd"}`),
		},
		[]types.ToolConfirmation{{CallID: "c1", Outcome: types.ConfirmYes}},
		nil,
		Context{SessionID: "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmations, outcome.Status)
	require.Len(t, outcome.StillPending, 1)
	assert.Equal(t, "c2", outcome.StillPending[0].CallID)
}

func TestExecuteUnknownConfirmationID(t *testing.T) {
	r := testRunner()

	_, err := r.Execute(context.Background(),
		[]types.PendingToolCall{pendingCall("c1", "echo", `{"text":"hi"}`)},
		[]types.ToolConfirmation{{CallID: "ghost", Outcome: types.ConfirmYes}},
		nil,
		Context{SessionID: "s1"},
	)
	var unknown *UnknownCallError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.CallID)
}

func TestAllowRuleApprovesMatchingCommand(t *testing.T) {
	r := testRunner()

	outcome, err := r.Execute(context.Background(),
		[]types.PendingToolCall{pendingCall("c1", "bash", `{"command":"git status"}`)},
		nil,
		[]types.AllowRule{{ToolName: "bash", Pattern: "git *"}},
		Context{SessionID: "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.False(t, outcome.Results[0].Rejected)
}

func TestAllowRuleIgnoresOtherCommands(t *testing.T) {
	r := testRunner()

	outcome, err := r.Execute(context.Background(),
		[]types.PendingToolCall{pendingCall("c1", "bash", `{"command":"curl example.com"}`)},
		nil,
		[]types.AllowRule{{ToolName: "bash", Pattern: "git *"}},
		Context{SessionID: "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirmations, outcome.Status)
	assert.Len(t, outcome.StillPending, 1)
}

func TestParseShellCommand(t *testing.T) {
	cmds, err := ParseShellCommand("git push origin main")
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "git", cmds[0].Name)
	assert.Equal(t, "push", cmds[0].Subcommand)
	assert.Equal(t, "git push", cmds[0].Pattern())
}

func TestParseShellCommandPipeline(t *testing.T) {
	cmds, err := ParseShellCommand("cat log.txt | grep error")
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "cat", cmds[0].Name)
	assert.Equal(t, "grep", cmds[1].Name)
}

func TestMatchesPattern(t *testing.T) {
	input := json.RawMessage(`{"command":"git status"}`)
	assert.True(t, MatchesPattern(input, "git *"))
	assert.True(t, MatchesPattern(input, "git status"))
	assert.True(t, MatchesPattern(input, "*"))
	assert.True(t, MatchesPattern(input, ""))
	assert.False(t, MatchesPattern(input, "npm *"))
}
