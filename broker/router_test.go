package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

func newTestRouter() *router {
	var seq uint64
	var cumulative float64
	return newRouter("msg_1",
		func() uint64 { seq++; return seq },
		func(turnCost float64) float64 { cumulative += turnCost; return cumulative })
}

func routeLine(t *testing.T, rt *router, line string) RouteResult {
	t.Helper()
	msg, err := protocol.ParseMessage([]byte(line))
	require.NoError(t, err)
	require.NotNil(t, msg)
	res, err := rt.RouteEvent(msg)
	require.NoError(t, err)
	return res
}

func TestRouter_SystemInit(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"system","subtype":"init","session_id":"s1","model":"sonnet",
		"cwd":"/work","permissionMode":"default","claude_code_version":"2.1.0",
		"tools":["Bash"],"plugins":[{"name":"review","path":"/p"}]
	}`)

	assert.Equal(t, "s1", res.SessionID)
	assert.False(t, res.Terminal)
	require.Len(t, res.Messages, 1)

	meta, ok := res.Messages[0].(wire.SystemMetadata)
	require.True(t, ok)
	assert.Equal(t, "s1", meta.SessionID)
	assert.Equal(t, "sonnet", meta.Model)
	assert.Equal(t, "/work", meta.WorkDir)
	assert.Equal(t, "2.1.0", meta.AgentVersion)
	require.Len(t, meta.Plugins, 1)
	assert.Equal(t, "review", meta.Plugins[0].Name)
}

func TestRouter_CompactBoundary(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{"type":"system","subtype":"compact_boundary","session_id":"s1"}`)

	require.Len(t, res.Messages, 1)
	_, ok := res.Messages[0].(wire.CompactBoundary)
	assert.True(t, ok)
}

func TestRouter_AssistantToolUseAndThinking(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"assistant","session_id":"s1","parent_tool_use_id":"task_3",
		"message":{"role":"assistant","content":[
			{"type":"text","text":"Let me check."},
			{"type":"thinking","thinking":"consider the options"},
			{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}
		],"stop_reason":null}
	}`)

	// Text blocks are not re-emitted; the streamed partials carried them.
	require.Len(t, res.Messages, 2)

	thinking, ok := res.Messages[0].(wire.ThinkingText)
	require.True(t, ok)
	assert.Equal(t, "consider the options", thinking.Text)
	assert.False(t, thinking.Partial)
	assert.Equal(t, "task_3", thinking.ParentTaskID)

	tool, ok := res.Messages[1].(wire.ToolUse)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", tool.ToolUseID)
	assert.Equal(t, "Bash", tool.ToolName)
	assert.Equal(t, map[string]interface{}{"command": "ls"}, tool.Input)
	assert.Equal(t, "task_3", tool.ParentTaskID)
}

func TestRouter_UserToolResult(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"message":{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"file1\nfile2"}
		],"stop_reason":null}
	}`)

	require.Len(t, res.Messages, 1)
	tr, ok := res.Messages[0].(wire.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", tr.ToolUseID)
	assert.Equal(t, "file1\nfile2", tr.Content)
	assert.False(t, tr.IsError)
}

func TestRouter_UserToolResultErrorMarkupStripped(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"message":{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"<tool_use_error>no such file</tool_use_error>"}
		],"stop_reason":null}
	}`)

	require.Len(t, res.Messages, 1)
	tr, ok := res.Messages[0].(wire.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "no such file", tr.Content)
	assert.True(t, tr.IsError)
}

func TestRouter_UserStructuredToolResult(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"toolUseResult":{"stdout":"ok","exit_code":0},
		"message":{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"ok"}
		],"stop_reason":null}
	}`)

	require.Len(t, res.Messages, 2)
	_, ok := res.Messages[0].(wire.ToolResult)
	require.True(t, ok)

	structured, ok := res.Messages[1].(wire.StructuredToolResult)
	require.True(t, ok)
	assert.Equal(t, "toolu_1", structured.ToolUseID)
	assert.JSONEq(t, `{"stdout":"ok","exit_code":0}`, string(structured.Result))
}

func TestRouter_StructuredToolResultEmittedOnce(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"toolUseResult":{"stdout":"ok"},
		"message":{"role":"user","content":[
			{"type":"tool_result","tool_use_id":"toolu_1","content":"first"},
			{"type":"tool_result","tool_use_id":"toolu_2","content":"second"}
		],"stop_reason":null}
	}`)

	var structured []wire.StructuredToolResult
	for _, msg := range res.Messages {
		if s, ok := msg.(wire.StructuredToolResult); ok {
			structured = append(structured, s)
		}
	}
	require.Len(t, structured, 1, "one structured result per record, not per block")
	assert.Equal(t, "toolu_1", structured[0].ToolUseID, "attached to the first block's id")
}

func TestRouter_ReplayedSlashCommandStdout(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"message":{"role":"user","content":"<local-command-stdout>Compacted conversation</local-command-stdout>","stop_reason":null}
	}`)

	require.Len(t, res.Messages, 1)
	text, ok := res.Messages[0].(wire.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "Compacted conversation", text.Text)
	assert.False(t, text.Partial)
}

func TestRouter_ReplayedSlashCommandStderr(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"message":{"role":"user","content":"<local-command-stderr>unknown command</local-command-stderr>","stop_reason":null}
	}`)

	require.Len(t, res.Messages, 1)
	errMsg, ok := res.Messages[0].(wire.Error)
	require.True(t, ok)
	assert.Equal(t, "unknown command", errMsg.Message)
	assert.True(t, errMsg.Recoverable)
}

func TestRouter_ReplayedPlainEchoProducesNothing(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"user","session_id":"s1",
		"message":{"role":"user","content":"run the tests","stop_reason":null}
	}`)
	assert.Empty(t, res.Messages)
}

func TestRouter_ResultSuccess(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"result","subtype":"success","session_id":"s1","result":"done",
		"total_cost_usd":0.03,"num_turns":1,"duration_ms":1000,"duration_api_ms":900,
		"is_error":false,
		"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}
	}`)

	assert.True(t, res.Terminal)
	require.Len(t, res.Messages, 3)

	// Final text that was never streamed still reaches the UI, as one
	// complete answer ahead of the cost update.
	text, ok := res.Messages[0].(wire.AssistantText)
	require.True(t, ok)
	assert.Equal(t, "done", text.Text)
	assert.False(t, text.Partial)

	cost, ok := res.Messages[1].(wire.CostUpdate)
	require.True(t, ok, "cost update must precede turn completion")
	assert.Equal(t, 0.03, cost.TotalCostUSD)
	assert.Equal(t, 0.03, cost.CumulativeCostUSD)

	complete, ok := res.Messages[2].(wire.TurnComplete)
	require.True(t, ok)
	assert.Equal(t, wire.TurnResultSuccess, complete.Result)
	assert.Empty(t, complete.Error)
}

func TestRouter_ResultWithoutTextEmitsNoAnswer(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"result","subtype":"success","session_id":"s1","result":"",
		"total_cost_usd":0.01,"num_turns":1,"duration_ms":10,"duration_api_ms":9,
		"is_error":false,
		"usage":{"input_tokens":1,"output_tokens":1,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}
	}`)

	require.Len(t, res.Messages, 2)
	_, ok := res.Messages[0].(wire.CostUpdate)
	assert.True(t, ok)
}

func TestRouter_ResultCumulativeCostAcrossTurns(t *testing.T) {
	rt := newTestRouter()
	line := `{
		"type":"result","subtype":"success","session_id":"s1","result":"done",
		"total_cost_usd":0.03,"num_turns":1,"duration_ms":1000,"duration_api_ms":900,
		"is_error":false,
		"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}
	}`

	routeLine(t, rt, line)
	res := routeLine(t, rt, line)

	cost := res.Messages[1].(wire.CostUpdate)
	assert.InDelta(t, 0.06, cost.CumulativeCostUSD, 1e-9)
}

func TestRouter_ResultErrorSubtype(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"result","subtype":"error_max_turns","session_id":"s1","result":"",
		"total_cost_usd":0,"num_turns":10,"duration_ms":1,"duration_api_ms":1,"is_error":true,
		"usage":{"input_tokens":0,"output_tokens":0,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}
	}`)

	complete := res.Messages[1].(wire.TurnComplete)
	assert.Equal(t, wire.TurnResultError, complete.Result)
	assert.Equal(t, "error_max_turns", complete.Error)
}

func TestRouter_ResultEmbeddedAPIError(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"result","subtype":"success","session_id":"s1",
		"result":"API Error: 529 overloaded",
		"total_cost_usd":0,"num_turns":1,"duration_ms":1,"duration_api_ms":1,"is_error":false,
		"usage":{"input_tokens":0,"output_tokens":0,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}
	}`)

	complete := res.Messages[1].(wire.TurnComplete)
	assert.Equal(t, wire.TurnResultError, complete.Result)
	assert.Equal(t, "API Error: 529 overloaded", complete.Error)
}

func TestRouter_ControlRequest(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"control_request","request_id":"req_1","parent_tool_use_id":"task_2",
		"request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}
	}`)

	require.NotNil(t, res.ControlRequest)
	assert.Equal(t, "req_1", res.ControlRequest.RequestID)
	assert.Equal(t, "task_2", res.ControlParentTaskID)
	assert.Empty(t, res.Messages)
}

func TestRouter_ControlCancel(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{"type":"control_cancel_request","request_id":"req_1"}`)
	assert.Equal(t, "req_1", res.CancelledRequestID)
}

func TestRouter_StreamEventForwarded(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{
		"type":"stream_event","session_id":"s1",
		"event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}
	}`)

	require.NotNil(t, res.StreamEvent)
	assert.Equal(t, "s1", res.SessionID)
	assert.Empty(t, res.Messages)
}

func TestRouter_KeepAliveIgnored(t *testing.T) {
	rt := newTestRouter()
	res := routeLine(t, rt, `{"type":"keep_alive"}`)
	assert.Empty(t, res.Messages)
	assert.False(t, res.Terminal)
}
