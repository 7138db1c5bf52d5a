package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ControlRequest wraps an out-of-band request from the CLI that needs a
// decision relayed back before the tool in question can run.
type ControlRequest struct {
	ParentToolUseID *string         `json:"parent_tool_use_id,omitempty"`
	Type            MessageType     `json:"type"`
	RequestID       string          `json:"request_id"`
	Request         json.RawMessage `json:"request"`
}

// MsgType returns the message type.
func (m ControlRequest) MsgType() MessageType { return MessageTypeControlRequest }

// ParsedRequest parses the inner request.
func (m ControlRequest) ParsedRequest() (ControlRequestData, error) {
	return ParseControlRequest(m.Request)
}

// ControlCancelRequest withdraws a previously issued control request. The
// CLI sends it when the tool call is aborted (for example on interrupt)
// before a response arrived.
type ControlCancelRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
}

// MsgType returns the message type.
func (m ControlCancelRequest) MsgType() MessageType { return MessageTypeControlCancelRequest }

// ControlResponseReceived is a control_response record arriving from the
// CLI (acknowledging a request we sent). The broker logs these; it never
// waits on them.
type ControlResponseReceived struct {
	Type     MessageType            `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

// MsgType returns the message type.
func (m ControlResponseReceived) MsgType() MessageType { return MessageTypeControlResponse }

// ControlRequestSubtype is the subtype of an inbound control request.
type ControlRequestSubtype string

const (
	ControlRequestSubtypeCanUseTool ControlRequestSubtype = "can_use_tool"
)

// ControlRequestData is the interface for control request discrimination.
type ControlRequestData interface {
	Subtype() ControlRequestSubtype
}

// CanUseToolRequest asks permission for a tool use. The same subtype also
// carries the clarifying-question tool, distinguished by ToolName.
type CanUseToolRequest struct {
	Input                 map[string]interface{} `json:"input"`
	BlockedPath           *string                `json:"blocked_path,omitempty"`
	DecisionReason        *string                `json:"decision_reason,omitempty"`
	SubtypeField          ControlRequestSubtype  `json:"subtype"`
	ToolName              string                 `json:"tool_name"`
	PermissionSuggestions []interface{}          `json:"permission_suggestions,omitempty"`
}

// Subtype returns the control request subtype.
func (r CanUseToolRequest) Subtype() ControlRequestSubtype { return r.SubtypeField }

// QuestionToolName is the clarifying-question tool. Its can_use_tool
// request carries questions; the allow response nests the answers.
const QuestionToolName = "AskUserQuestion"

// ParseControlRequest parses the inner request of a ControlRequest.
// Unknown subtypes return (nil, nil) and are skipped.
func ParseControlRequest(data json.RawMessage) (ControlRequestData, error) {
	var base struct {
		Subtype ControlRequestSubtype `json:"subtype"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Subtype {
	case ControlRequestSubtypeCanUseTool:
		var r CanUseToolRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		slog.Warn("skipping unknown control request subtype", "subtype", base.Subtype)
		return nil, nil
	}
}

// ControlResponse wraps responses sent to the CLI.
type ControlResponse struct {
	Type     MessageType            `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

// MsgType returns the message type.
func (m ControlResponse) MsgType() MessageType { return MessageTypeControlResponse }

// Marshal serializes the control response to a JSON line ready to write to the CLI.
func (m ControlResponse) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal ControlResponse: %w", err)
	}
	return b, nil
}

// ControlResponsePayload is the inner response payload.
type ControlResponsePayload struct {
	Subtype   string      `json:"subtype"`
	RequestID string      `json:"request_id"`
	Response  interface{} `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// PermissionBehavior is the behavior for a permission response.
type PermissionBehavior string

const (
	PermissionBehaviorAllow PermissionBehavior = "allow"
	PermissionBehaviorDeny  PermissionBehavior = "deny"
)

// PermissionResultAllow allows tool execution.
//
// Wire format constraints: the discriminating field is named "behavior"
// (the CLI rejects "decision"), and updatedInput must be an object, never
// null; pass the original request input when no override applies.
type PermissionResultAllow struct {
	Behavior     PermissionBehavior     `json:"behavior"`
	UpdatedInput map[string]interface{} `json:"updatedInput"`
}

// PermissionResultDeny denies tool execution with a human-readable reason.
type PermissionResultDeny struct {
	Behavior  PermissionBehavior `json:"behavior"`
	Message   string             `json:"message,omitempty"`
	Interrupt bool               `json:"interrupt,omitempty"`
}

// ControlRequestToSend is a control request the broker sends to the CLI.
type ControlRequestToSend struct {
	Request   interface{} `json:"request"`
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
}

// Marshal serializes the control request to a JSON line ready to write to the CLI.
func (m ControlRequestToSend) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal ControlRequestToSend: %w", err)
	}
	return b, nil
}

// SetPermissionModeRequestToSend is the request body for setting permission mode.
type SetPermissionModeRequestToSend struct {
	Subtype string `json:"subtype"`
	Mode    string `json:"mode"`
}

// InterruptRequestToSend is the request body for interrupting the turn.
type InterruptRequestToSend struct {
	Subtype string `json:"subtype"`
}

// SetModelRequestToSend is the request body for switching the model.
type SetModelRequestToSend struct {
	Subtype string `json:"subtype"`
	Model   string `json:"model"`
}

// ToolUseRequest is the parsed form of a can_use_tool control request.
type ToolUseRequest struct {
	Input                 map[string]interface{}
	BlockedPath           *string
	DecisionReason        *string
	RequestID             string
	ToolName              string
	PermissionSuggestions []interface{}
}

// IsQuestion reports whether this request carries the clarifying-question
// tool rather than a plain permission check.
func (r *ToolUseRequest) IsQuestion() bool {
	return r.ToolName == QuestionToolName
}

// ParseToolUseRequest extracts tool use information from a control request.
// Returns nil if the request is not a can_use_tool request.
func ParseToolUseRequest(msg ControlRequest) *ToolUseRequest {
	reqData, err := ParseControlRequest(msg.Request)
	if err != nil {
		return nil
	}

	canUseTool, ok := reqData.(CanUseToolRequest)
	if !ok {
		return nil
	}

	return &ToolUseRequest{
		RequestID:             msg.RequestID,
		ToolName:              canUseTool.ToolName,
		Input:                 canUseTool.Input,
		BlockedPath:           canUseTool.BlockedPath,
		DecisionReason:        canUseTool.DecisionReason,
		PermissionSuggestions: canUseTool.PermissionSuggestions,
	}
}
