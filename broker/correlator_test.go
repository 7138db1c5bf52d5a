package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

func pendingToolRequest(id, tool string) *protocol.ToolUseRequest {
	return &protocol.ToolUseRequest{
		RequestID: id,
		ToolName:  tool,
		Input:     map[string]interface{}{"command": "ls"},
	}
}

func TestCorrelator_RegisterForwardsRequest(t *testing.T) {
	c := newCorrelator()

	reason := "blocked by policy"
	path := "/etc"
	req := pendingToolRequest("req_1", "Bash")
	req.DecisionReason = &reason
	req.BlockedPath = &path

	forwarded := c.Register(req, "task_7")

	assert.Equal(t, wire.OutboundTypePermissionRequest, forwarded.Type)
	assert.Equal(t, wire.Version, forwarded.Version)
	assert.Equal(t, "req_1", forwarded.RequestID)
	assert.Equal(t, "Bash", forwarded.ToolName)
	assert.Equal(t, "task_7", forwarded.ParentTaskID)
	assert.Equal(t, "blocked by policy", forwarded.DecisionReason)
	assert.Equal(t, "/etc", forwarded.BlockedPath)
	assert.False(t, forwarded.IsQuestion)
	assert.Equal(t, 1, c.PendingCount())
}

func TestCorrelator_RegisterQuestion(t *testing.T) {
	c := newCorrelator()

	forwarded := c.Register(pendingToolRequest("req_q", protocol.QuestionToolName), "")
	assert.True(t, forwarded.IsQuestion)
}

func TestCorrelator_ApproveAllowUsesOriginalInput(t *testing.T) {
	c := newCorrelator()
	c.Register(pendingToolRequest("req_1", "Bash"), "")

	resp, err := c.Approve(wire.ToolApproval{RequestID: "req_1", Decision: wire.DecisionAllow})
	require.NoError(t, err)

	b, err := resp.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"behavior":"allow"`)
	assert.Contains(t, string(b), `"updatedInput":{"command":"ls"}`)
	assert.NotContains(t, string(b), `"decision"`)
	assert.Equal(t, 0, c.PendingCount(), "resolved exchange must be dropped")
}

func TestCorrelator_ApproveAllowWithUpdatedInput(t *testing.T) {
	c := newCorrelator()
	c.Register(pendingToolRequest("req_1", "Bash"), "")

	resp, err := c.Approve(wire.ToolApproval{
		RequestID:    "req_1",
		Decision:     wire.DecisionAllow,
		UpdatedInput: map[string]interface{}{"command": "ls -la"},
	})
	require.NoError(t, err)

	b, err := resp.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"updatedInput":{"command":"ls -la"}`)
}

func TestCorrelator_ApproveDeny(t *testing.T) {
	c := newCorrelator()
	c.Register(pendingToolRequest("req_1", "Bash"), "")

	resp, err := c.Approve(wire.ToolApproval{
		RequestID: "req_1",
		Decision:  wire.DecisionDeny,
		Message:   "too risky",
	})
	require.NoError(t, err)

	b, err := resp.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"behavior":"deny"`)
	assert.Contains(t, string(b), `"message":"too risky"`)
}

func TestCorrelator_ApproveUnknownID(t *testing.T) {
	c := newCorrelator()

	_, err := c.Approve(wire.ToolApproval{RequestID: "nope", Decision: wire.DecisionAllow})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestCorrelator_AnswerNestsUnderAnswersKey(t *testing.T) {
	c := newCorrelator()
	req := &protocol.ToolUseRequest{
		RequestID: "req_q",
		ToolName:  protocol.QuestionToolName,
		Input: map[string]interface{}{
			"questions": []interface{}{map[string]interface{}{"question": "Which db?"}},
		},
	}
	c.Register(req, "")

	resp, err := c.Answer(wire.QuestionAnswer{
		RequestID: "req_q",
		Answers:   map[string]string{"Which db?": "postgres"},
	})
	require.NoError(t, err)

	b, err := resp.Marshal()
	require.NoError(t, err)

	var decoded struct {
		Response struct {
			Response struct {
				UpdatedInput map[string]json.RawMessage `json:"updatedInput"`
			} `json:"response"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Contains(t, decoded.Response.Response.UpdatedInput, "questions")
	assert.Contains(t, decoded.Response.Response.UpdatedInput, "answers")
}

func TestCorrelator_AnswerUnknownID(t *testing.T) {
	c := newCorrelator()

	_, err := c.Answer(wire.QuestionAnswer{RequestID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestCorrelator_Cancel(t *testing.T) {
	c := newCorrelator()
	c.Register(pendingToolRequest("req_1", "Bash"), "")

	cancelled, ok := c.Cancel("req_1")
	require.True(t, ok)
	assert.Equal(t, "req_1", cancelled.RequestID)
	assert.Equal(t, 0, c.PendingCount())

	// A second cancel for the same id is a no-op.
	_, ok = c.Cancel("req_1")
	assert.False(t, ok)
}

func TestCorrelator_Reset(t *testing.T) {
	c := newCorrelator()
	c.Register(pendingToolRequest("req_1", "Bash"), "")
	c.Register(pendingToolRequest("req_2", "Read"), "")

	c.Reset()
	assert.Equal(t, 0, c.PendingCount())

	_, err := c.Approve(wire.ToolApproval{RequestID: "req_1", Decision: wire.DecisionAllow})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}
