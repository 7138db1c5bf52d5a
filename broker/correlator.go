package broker

import (
	"log/slog"
	"sync"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

// correlator tracks in-flight control exchanges keyed by request id. The
// read loop registers requests while approval and answer handlers arrive
// on the transport goroutine, so the table is mutex-guarded. A response
// must never be produced for a request that was already resolved or
// cancelled.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*protocol.ToolUseRequest
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]*protocol.ToolUseRequest),
	}
}

// Register stores a control exchange awaiting a decision and returns the
// forwarded request for the UI. Request ids are unique among pending
// exchanges; a duplicate id replaces the stale entry with a logged line.
func (c *correlator) Register(req *protocol.ToolUseRequest, parentTaskID string) wire.PermissionRequest {
	c.mu.Lock()
	if _, exists := c.pending[req.RequestID]; exists {
		slog.Warn("replacing stale pending control exchange", "request_id", req.RequestID)
	}
	c.pending[req.RequestID] = req
	c.mu.Unlock()

	forwarded := wire.PermissionRequest{
		Type:         wire.OutboundTypePermissionRequest,
		Version:      wire.Version,
		ParentTaskID: parentTaskID,
		RequestID:    req.RequestID,
		ToolName:     req.ToolName,
		Input:        req.Input,
		Suggestions:  req.PermissionSuggestions,
		IsQuestion:   req.IsQuestion(),
	}
	if req.DecisionReason != nil {
		forwarded.DecisionReason = *req.DecisionReason
	}
	if req.BlockedPath != nil {
		forwarded.BlockedPath = *req.BlockedPath
	}
	return forwarded
}

// Approve resolves a pending exchange with an allow or deny decision and
// formats the control response for the agent process. The allow payload
// uses the caller-supplied updated input when present, the original input
// otherwise; updatedInput must never be null on the wire.
func (c *correlator) Approve(approval wire.ToolApproval) (protocol.ControlResponse, error) {
	req, ok := c.take(approval.RequestID)
	if !ok {
		return protocol.ControlResponse{}, ErrUnknownRequest
	}

	if approval.Decision == wire.DecisionAllow {
		input := approval.UpdatedInput
		if input == nil {
			input = req.Input
		}
		return protocol.NewPermissionAllow(req.RequestID, input), nil
	}

	message := approval.Message
	if message == "" {
		message = "denied by user"
	}
	return protocol.NewPermissionDeny(req.RequestID, message, false), nil
}

// Answer resolves a pending clarifying-question exchange. The answers nest
// under the "answers" key beside the original questions object.
func (c *correlator) Answer(answer wire.QuestionAnswer) (protocol.ControlResponse, error) {
	req, ok := c.take(answer.RequestID)
	if !ok {
		return protocol.ControlResponse{}, ErrUnknownRequest
	}
	return protocol.NewQuestionAnswer(req.RequestID, req.Input, answer.Answers), nil
}

// Cancel drops a pending exchange after the agent withdrew it. Returns the
// cancellation notice for the UI and whether the id was tracked.
func (c *correlator) Cancel(requestID string) (wire.PermissionCancelled, bool) {
	_, ok := c.take(requestID)
	if !ok {
		slog.Warn("cancellation for unknown control exchange", "request_id", requestID)
		return wire.PermissionCancelled{}, false
	}
	return wire.NewPermissionCancelled(requestID), true
}

// Reset drops every pending exchange. Used when the process is replaced:
// responses must not be sent to a process that never issued the requests.
func (c *correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		slog.Debug("dropping pending control exchanges", "count", len(c.pending))
	}
	c.pending = make(map[string]*protocol.ToolUseRequest)
}

// PendingCount returns the number of in-flight exchanges.
func (c *correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending entry for id.
func (c *correlator) take(id string) (*protocol.ToolUseRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return req, ok
}
