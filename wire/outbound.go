// Package wire defines the broker's internal protocol: the validated
// tagged unions exchanged with the UI-facing control surface as
// newline-delimited JSON records. Every outbound record carries the
// protocol version tag; inbound records outside the closed union are
// rejected at this boundary before reaching any other component.
package wire

import "encoding/json"

// Version is the internal protocol version. Every outbound record carries
// it; an inbound init record with a different version is a fatal mismatch.
const Version = "1"

// OutboundType discriminates between outbound record kinds.
type OutboundType string

const (
	OutboundTypeAck                  OutboundType = "ack"
	OutboundTypeSessionInit          OutboundType = "session_init"
	OutboundTypeSystemMetadata       OutboundType = "system_metadata"
	OutboundTypeAssistantText        OutboundType = "assistant_text"
	OutboundTypeThinkingText         OutboundType = "thinking_text"
	OutboundTypeToolUse              OutboundType = "tool_use"
	OutboundTypeToolResult           OutboundType = "tool_result"
	OutboundTypeStructuredToolResult OutboundType = "structured_tool_result"
	OutboundTypeCompactBoundary      OutboundType = "compact_boundary"
	OutboundTypeCostUpdate           OutboundType = "cost_update"
	OutboundTypePermissionRequest    OutboundType = "permission_request"
	OutboundTypePermissionCancelled  OutboundType = "permission_cancelled"
	OutboundTypeTurnComplete         OutboundType = "turn_complete"
	OutboundTypeTurnCancelled        OutboundType = "turn_cancelled"
	OutboundTypeError                OutboundType = "error"
)

// Outbound is the interface for all outbound records. Records are
// constructed once and never mutated after emission.
type Outbound interface {
	OutboundKind() OutboundType
}

// Ack acknowledges the UI's protocol init record.
type Ack struct {
	Type    OutboundType `json:"type"`
	Version string       `json:"version"`
}

// OutboundKind returns the outbound record kind.
func (m Ack) OutboundKind() OutboundType { return OutboundTypeAck }

// NewAck constructs an Ack.
func NewAck() Ack {
	return Ack{Type: OutboundTypeAck, Version: Version}
}

// SessionInit announces that a session is attached. SessionID is the
// persisted identifier when resuming, or a placeholder until the external
// process's handshake supplies the authoritative one.
type SessionInit struct {
	Type      OutboundType `json:"type"`
	Version   string       `json:"version"`
	SessionID string       `json:"session_id"`
	Resumed   bool         `json:"resumed"`
}

// OutboundKind returns the outbound record kind.
func (m SessionInit) OutboundKind() OutboundType { return OutboundTypeSessionInit }

// NewSessionInit constructs a SessionInit.
func NewSessionInit(sessionID string, resumed bool) SessionInit {
	return SessionInit{Type: OutboundTypeSessionInit, Version: Version, SessionID: sessionID, Resumed: resumed}
}

// Plugin identifies a loaded agent plugin.
type Plugin struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// SystemMetadata carries the handshake metadata from the external process.
type SystemMetadata struct {
	Type           OutboundType `json:"type"`
	Version        string       `json:"version"`
	ParentTaskID   string       `json:"parent_tool_use_id,omitempty"`
	SessionID      string       `json:"session_id"`
	Model          string       `json:"model,omitempty"`
	PermissionMode string       `json:"permission_mode,omitempty"`
	WorkDir        string       `json:"cwd,omitempty"`
	AgentVersion   string       `json:"agent_version,omitempty"`
	Tools          []string     `json:"tools,omitempty"`
	SlashCommands  []string     `json:"slash_commands,omitempty"`
	Plugins        []Plugin     `json:"plugins,omitempty"`
	Agents         []string     `json:"agents,omitempty"`
	Skills         []string     `json:"skills,omitempty"`
}

// OutboundKind returns the outbound record kind.
func (m SystemMetadata) OutboundKind() OutboundType { return OutboundTypeSystemMetadata }

// AssistantText carries answer text: partial streamed fragments tagged with
// a per-turn revision, or a complete message.
type AssistantText struct {
	Type         OutboundType `json:"type"`
	Version      string       `json:"version"`
	ParentTaskID string       `json:"parent_tool_use_id,omitempty"`
	MessageID    string       `json:"message_id"`
	Seq          uint64       `json:"seq"`
	Revision     int          `json:"revision"`
	Text         string       `json:"text"`
	Partial      bool         `json:"partial"`
}

// OutboundKind returns the outbound record kind.
func (m AssistantText) OutboundKind() OutboundType { return OutboundTypeAssistantText }

// ThinkingText carries thinking text, streamed independently of answer text.
type ThinkingText struct {
	Type         OutboundType `json:"type"`
	Version      string       `json:"version"`
	ParentTaskID string       `json:"parent_tool_use_id,omitempty"`
	MessageID    string       `json:"message_id"`
	Seq          uint64       `json:"seq"`
	Text         string       `json:"text"`
	Partial      bool         `json:"partial"`
}

// OutboundKind returns the outbound record kind.
func (m ThinkingText) OutboundKind() OutboundType { return OutboundTypeThinkingText }

// ToolUse announces a tool invocation. Input may be nil when the tool was
// seen at stream block-start, before its input finished streaming.
type ToolUse struct {
	Input        map[string]interface{} `json:"input,omitempty"`
	Type         OutboundType           `json:"type"`
	Version      string                 `json:"version"`
	ParentTaskID string                 `json:"parent_tool_use_id,omitempty"`
	MessageID    string                 `json:"message_id"`
	ToolUseID    string                 `json:"tool_use_id"`
	ToolName     string                 `json:"tool_name"`
	Seq          uint64                 `json:"seq"`
}

// OutboundKind returns the outbound record kind.
func (m ToolUse) OutboundKind() OutboundType { return OutboundTypeToolUse }

// ToolResult carries the flattened text output of an executed tool.
type ToolResult struct {
	Type         OutboundType `json:"type"`
	Version      string       `json:"version"`
	ParentTaskID string       `json:"parent_tool_use_id,omitempty"`
	MessageID    string       `json:"message_id"`
	ToolUseID    string       `json:"tool_use_id"`
	Content      string       `json:"content"`
	Seq          uint64       `json:"seq"`
	IsError      bool         `json:"is_error"`
}

// OutboundKind returns the outbound record kind.
func (m ToolResult) OutboundKind() OutboundType { return OutboundTypeToolResult }

// StructuredToolResult carries the structured result object some tools
// attach alongside their textual output.
type StructuredToolResult struct {
	Type         OutboundType    `json:"type"`
	Version      string          `json:"version"`
	ParentTaskID string          `json:"parent_tool_use_id,omitempty"`
	MessageID    string          `json:"message_id"`
	ToolUseID    string          `json:"tool_use_id"`
	Result       json.RawMessage `json:"result"`
	Seq          uint64          `json:"seq"`
}

// OutboundKind returns the outbound record kind.
func (m StructuredToolResult) OutboundKind() OutboundType { return OutboundTypeStructuredToolResult }

// CompactBoundary marks a context compaction point. No payload.
type CompactBoundary struct {
	Type         OutboundType `json:"type"`
	Version      string       `json:"version"`
	ParentTaskID string       `json:"parent_tool_use_id,omitempty"`
}

// OutboundKind returns the outbound record kind.
func (m CompactBoundary) OutboundKind() OutboundType { return OutboundTypeCompactBoundary }

// UsageTotals aggregates token usage for a terminal result.
type UsageTotals struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// ModelCost is the per-model usage breakdown.
type ModelCost struct {
	InputTokens          int     `json:"input_tokens"`
	OutputTokens         int     `json:"output_tokens"`
	CacheReadInputTokens int     `json:"cache_read_input_tokens"`
	CostUSD              float64 `json:"cost_usd"`
	ContextWindow        int     `json:"context_window,omitempty"`
}

// CostUpdate reports turn cost and usage. Within one turn it always
// precedes the TurnComplete for the same result record.
type CostUpdate struct {
	ModelUsage        map[string]ModelCost `json:"model_usage,omitempty"`
	Type              OutboundType         `json:"type"`
	Version           string               `json:"version"`
	ParentTaskID      string               `json:"parent_tool_use_id,omitempty"`
	Usage             UsageTotals          `json:"usage"`
	TotalCostUSD      float64              `json:"total_cost_usd"`
	CumulativeCostUSD float64              `json:"cumulative_cost_usd"`
	NumTurns          int                  `json:"num_turns"`
	DurationMs        int64                `json:"duration_ms"`
	DurationAPIMs     int64                `json:"duration_api_ms"`
}

// OutboundKind returns the outbound record kind.
func (m CostUpdate) OutboundKind() OutboundType { return OutboundTypeCostUpdate }

// PermissionRequest forwards a pending control exchange to the UI for a
// decision. IsQuestion marks the clarifying-question tool.
type PermissionRequest struct {
	Input          map[string]interface{} `json:"input"`
	Type           OutboundType           `json:"type"`
	Version        string                 `json:"version"`
	ParentTaskID   string                 `json:"parent_tool_use_id,omitempty"`
	RequestID      string                 `json:"request_id"`
	ToolName       string                 `json:"tool_name"`
	DecisionReason string                 `json:"decision_reason,omitempty"`
	BlockedPath    string                 `json:"blocked_path,omitempty"`
	Suggestions    []interface{}          `json:"permission_suggestions,omitempty"`
	IsQuestion     bool                   `json:"is_question"`
}

// OutboundKind returns the outbound record kind.
func (m PermissionRequest) OutboundKind() OutboundType { return OutboundTypePermissionRequest }

// PermissionCancelled withdraws a previously forwarded permission request.
type PermissionCancelled struct {
	Type      OutboundType `json:"type"`
	Version   string       `json:"version"`
	RequestID string       `json:"request_id"`
}

// OutboundKind returns the outbound record kind.
func (m PermissionCancelled) OutboundKind() OutboundType { return OutboundTypePermissionCancelled }

// NewPermissionCancelled constructs a PermissionCancelled.
func NewPermissionCancelled(requestID string) PermissionCancelled {
	return PermissionCancelled{Type: OutboundTypePermissionCancelled, Version: Version, RequestID: requestID}
}

// Turn results.
const (
	TurnResultSuccess = "success"
	TurnResultError   = "error"
)

// TurnComplete ends a turn. Result is "success" only for the success
// subtype; every other subtype maps to "error".
type TurnComplete struct {
	Type         OutboundType `json:"type"`
	Version      string       `json:"version"`
	ParentTaskID string       `json:"parent_tool_use_id,omitempty"`
	MessageID    string       `json:"message_id"`
	Result       string       `json:"result"`
	Error        string       `json:"error,omitempty"`
	Seq          uint64       `json:"seq"`
}

// OutboundKind returns the outbound record kind.
func (m TurnComplete) OutboundKind() OutboundType { return OutboundTypeTurnComplete }

// TurnCancelled ends an interrupted turn, carrying whatever partial answer
// text had accumulated before the stream ended.
type TurnCancelled struct {
	Type      OutboundType `json:"type"`
	Version   string       `json:"version"`
	MessageID string       `json:"message_id"`
	Text      string       `json:"text,omitempty"`
	Seq       uint64       `json:"seq"`
}

// OutboundKind returns the outbound record kind.
func (m TurnCancelled) OutboundKind() OutboundType { return OutboundTypeTurnCancelled }

// NewTurnCancelled constructs a TurnCancelled.
func NewTurnCancelled(messageID string, seq uint64, text string) TurnCancelled {
	return TurnCancelled{Type: OutboundTypeTurnCancelled, Version: Version, MessageID: messageID, Seq: seq, Text: text}
}

// Error reports a broker-level error. Recoverable errors leave the session
// usable for the next turn.
type Error struct {
	Type        OutboundType `json:"type"`
	Version     string       `json:"version"`
	Message     string       `json:"message"`
	Recoverable bool         `json:"recoverable"`
}

// OutboundKind returns the outbound record kind.
func (m Error) OutboundKind() OutboundType { return OutboundTypeError }

// NewError constructs an Error.
func NewError(message string, recoverable bool) Error {
	return Error{Type: OutboundTypeError, Version: Version, Message: message, Recoverable: recoverable}
}
