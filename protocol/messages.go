// Package protocol defines the wire protocol spoken by the agent CLI over
// its stdin/stdout streams: newline-delimited JSON records, discriminated
// by a top-level "type" field, with streaming sub-events and an out-of-band
// control channel nested inside.
package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// MessageType discriminates between output record kinds.
type MessageType string

const (
	MessageTypeSystem               MessageType = "system"
	MessageTypeAssistant            MessageType = "assistant"
	MessageTypeUser                 MessageType = "user"
	MessageTypeResult               MessageType = "result"
	MessageTypeStreamEvent          MessageType = "stream_event"
	MessageTypeControlRequest       MessageType = "control_request"
	MessageTypeControlResponse      MessageType = "control_response"
	MessageTypeControlCancelRequest MessageType = "control_cancel_request"
	MessageTypeKeepAlive            MessageType = "keep_alive"
)

// System message subtypes.
const (
	SystemSubtypeInit            = "init"
	SystemSubtypeCompactBoundary = "compact_boundary"
)

// Message is the interface for all output records.
type Message interface {
	MsgType() MessageType
}

// Plugin represents a loaded CLI plugin.
type Plugin struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SystemMessage represents session initialization and system events.
type SystemMessage struct {
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	Type            MessageType `json:"type"`
	Subtype         string      `json:"subtype"`
	UUID            string      `json:"uuid"`
	SessionID       string      `json:"session_id"`
	Model           string      `json:"model,omitempty"`
	CWD             string      `json:"cwd,omitempty"`
	PermissionMode  string      `json:"permissionMode,omitempty"`
	AgentVersion    string      `json:"claude_code_version,omitempty"`
	Tools           []string    `json:"tools,omitempty"`
	SlashCommands   []string    `json:"slash_commands,omitempty"`
	Plugins         []Plugin    `json:"plugins,omitempty"`
	Agents          []string    `json:"agents,omitempty"`
	Skills          []string    `json:"skills,omitempty"`
}

// MsgType returns the message type.
func (m SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// Usage tracks token usage for one API call.
type Usage struct {
	ServiceTier              string `json:"service_tier,omitempty"`
	InputTokens              int    `json:"input_tokens"`
	CacheCreationInputTokens int    `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int    `json:"cache_read_input_tokens"`
	OutputTokens             int    `json:"output_tokens"`
}

// FlexibleContent can be either a string or an array of content blocks.
type FlexibleContent struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	fc.raw = data
	return nil
}

// MarshalJSON implements json.Marshaler.
func (fc FlexibleContent) MarshalJSON() ([]byte, error) {
	if fc.raw == nil {
		return []byte("null"), nil
	}
	return fc.raw, nil
}

// IsString returns true if the content is a string.
func (fc FlexibleContent) IsString() bool {
	if len(fc.raw) == 0 {
		return false
	}
	return fc.raw[0] == '"'
}

// AsString returns the content as a string (if it is one).
func (fc FlexibleContent) AsString() (string, bool) {
	if !fc.IsString() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(fc.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// AsBlocks returns the content as content blocks (if it is an array).
func (fc FlexibleContent) AsBlocks() (ContentBlocks, bool) {
	if fc.IsString() || len(fc.raw) == 0 {
		return nil, false
	}
	var blocks ContentBlocks
	if err := json.Unmarshal(fc.raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// MessageContent is the inner content of assistant/user records.
type MessageContent struct {
	Model      string          `json:"model,omitempty"`
	ID         string          `json:"id,omitempty"`
	Role       string          `json:"role"`
	Content    FlexibleContent `json:"content"`
	StopReason *string         `json:"stop_reason"`
	Usage      Usage           `json:"usage,omitempty"`
}

// AssistantMessage is a complete (non-streamed) message from the agent.
type AssistantMessage struct {
	ParentToolUseID *string        `json:"parent_tool_use_id"`
	Type            MessageType    `json:"type"`
	SessionID       string         `json:"session_id"`
	UUID            string         `json:"uuid"`
	Message         MessageContent `json:"message"`
}

// MsgType returns the message type.
func (m AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// UserMessage carries tool results echoed back by the CLI, and, when the
// CLI replays prior user messages, slash-command output wrapped in
// local-command markup.
type UserMessage struct {
	ParentToolUseID *string         `json:"parent_tool_use_id"`
	Type            MessageType     `json:"type"`
	SessionID       string          `json:"session_id"`
	UUID            string          `json:"uuid"`
	Message         MessageContent  `json:"message"`
	ToolUseResult   json.RawMessage `json:"toolUseResult,omitempty"`
}

// MsgType returns the message type.
func (m UserMessage) MsgType() MessageType { return MessageTypeUser }

// ModelUsage tracks usage attributed to one model.
type ModelUsage struct {
	InputTokens              int     `json:"inputTokens"`
	OutputTokens             int     `json:"outputTokens"`
	CacheReadInputTokens     int     `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int     `json:"cacheCreationInputTokens"`
	CostUSD                  float64 `json:"costUSD"`
	ContextWindow            int     `json:"contextWindow,omitempty"`
}

// Result message subtypes.
const (
	ResultSubtypeSuccess         = "success"
	ResultSubtypeErrorMaxTurns   = "error_max_turns"
	ResultSubtypeErrorDuringExec = "error_during_execution"
)

// ResultMessage is the terminal record for a turn.
type ResultMessage struct {
	ParentToolUseID *string               `json:"parent_tool_use_id"`
	ModelUsage      map[string]ModelUsage `json:"modelUsage,omitempty"`
	Type            MessageType           `json:"type"`
	Subtype         string                `json:"subtype"`
	UUID            string                `json:"uuid"`
	SessionID       string                `json:"session_id"`
	Result          string                `json:"result"`
	Usage           Usage                 `json:"usage"`
	TotalCostUSD    float64               `json:"total_cost_usd"`
	NumTurns        int                   `json:"num_turns"`
	DurationMs      int64                 `json:"duration_ms"`
	DurationAPIMs   int64                 `json:"duration_api_ms"`
	IsError         bool                  `json:"is_error"`
}

// MsgType returns the message type.
func (m ResultMessage) MsgType() MessageType { return MessageTypeResult }

// KeepAlive is an empty liveness record; it carries no payload.
type KeepAlive struct {
	Type MessageType `json:"type"`
}

// MsgType returns the message type.
func (m KeepAlive) MsgType() MessageType { return MessageTypeKeepAlive }

// UserMessageToSend is the input envelope written to the CLI.
type UserMessageToSend struct {
	Message UserMessageToSendInner `json:"message"`
	Type    string                 `json:"type"`
}

// UserMessageToSendInner is the inner part of the input envelope.
type UserMessageToSendInner struct {
	Content interface{} `json:"content"`
	Role    string      `json:"role"`
}

// Marshal serializes the envelope to a JSON line ready to write to the CLI.
func (m UserMessageToSend) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal UserMessageToSend: %w", err)
	}
	return b, nil
}

// ParseMessage decodes one output record. Unknown record kinds return
// (nil, nil): they are logged and skipped, never fatal. A single
// unrecognized line must not abort the session.
func ParseMessage(line []byte) (Message, error) {
	var base struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case MessageTypeSystem:
		var m SystemMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeAssistant:
		var m AssistantMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeUser:
		var m UserMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeResult:
		var m ResultMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeStreamEvent:
		var m StreamEvent
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeControlRequest:
		var m ControlRequest
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeControlResponse:
		var m ControlResponseReceived
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeControlCancelRequest:
		var m ControlCancelRequest
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeKeepAlive:
		var m KeepAlive
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		slog.Warn("skipping unknown message type", "type", base.Type)
		return nil, nil
	}
}
