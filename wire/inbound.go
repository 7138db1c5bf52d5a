package wire

import (
	"encoding/json"
	"fmt"
)

// InboundType discriminates between inbound record kinds.
type InboundType string

const (
	InboundTypeInit           InboundType = "init"
	InboundTypeUserMessage    InboundType = "user_message"
	InboundTypeToolApproval   InboundType = "tool_approval"
	InboundTypeQuestionAnswer InboundType = "question_answer"
	InboundTypeInterrupt      InboundType = "interrupt"
	InboundTypePermissionMode InboundType = "permission_mode"
	InboundTypeModelChange    InboundType = "model_change"
	InboundTypeSessionCommand InboundType = "session_command"
)

// Inbound is the interface for all inbound records.
type Inbound interface {
	InboundKind() InboundType
}

// Init opens the internal protocol. A version other than Version is the
// one unrecoverable handshake failure.
type Init struct {
	Type    InboundType `json:"type"`
	Version string      `json:"version"`
}

// InboundKind returns the inbound record kind.
func (m Init) InboundKind() InboundType { return InboundTypeInit }

// Attachment is one file attached to a user message. Content is raw text
// for textual media types and base64 for images. Attachments are validated
// at envelope-build time and never stored.
type Attachment struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	MediaType string `json:"media_type"`
}

// UserMessage submits one turn of user input.
type UserMessage struct {
	Type        InboundType  `json:"type"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// InboundKind returns the inbound record kind.
func (m UserMessage) InboundKind() InboundType { return InboundTypeUserMessage }

// Approval decisions.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// ToolApproval answers a forwarded permission request.
type ToolApproval struct {
	UpdatedInput map[string]interface{} `json:"updated_input,omitempty"`
	Type         InboundType            `json:"type"`
	RequestID    string                 `json:"request_id"`
	Decision     string                 `json:"decision"`
	Message      string                 `json:"message,omitempty"`
}

// InboundKind returns the inbound record kind.
func (m ToolApproval) InboundKind() InboundType { return InboundTypeToolApproval }

// QuestionAnswer answers a forwarded clarifying question. Multi-select
// answers arrive pre-joined into comma-separated option labels with no
// inserted whitespace.
type QuestionAnswer struct {
	Answers   map[string]string `json:"answers"`
	Type      InboundType       `json:"type"`
	RequestID string            `json:"request_id"`
}

// InboundKind returns the inbound record kind.
func (m QuestionAnswer) InboundKind() InboundType { return InboundTypeQuestionAnswer }

// Interrupt requests cooperative cancellation of the in-flight turn.
type Interrupt struct {
	Type InboundType `json:"type"`
}

// InboundKind returns the inbound record kind.
func (m Interrupt) InboundKind() InboundType { return InboundTypeInterrupt }

// PermissionMode changes the permission mode.
type PermissionMode struct {
	Type InboundType `json:"type"`
	Mode string      `json:"mode"`
}

// InboundKind returns the inbound record kind.
func (m PermissionMode) InboundKind() InboundType { return InboundTypePermissionMode }

// ModelChange switches the active model.
type ModelChange struct {
	Type  InboundType `json:"type"`
	Model string      `json:"model"`
}

// InboundKind returns the inbound record kind.
func (m ModelChange) InboundKind() InboundType { return InboundTypeModelChange }

// Session commands.
const (
	SessionCommandFork     = "fork"
	SessionCommandContinue = "continue"
	SessionCommandNew      = "new"
)

// SessionCommand replaces the current session wholesale.
type SessionCommand struct {
	Type    InboundType `json:"type"`
	Command string      `json:"command"`
}

// InboundKind returns the inbound record kind.
func (m SessionCommand) InboundKind() InboundType { return InboundTypeSessionCommand }

// ParseInbound validates and decodes one inbound record. Anything outside
// the closed union is rejected here, before reaching any other component.
func ParseInbound(line []byte) (Inbound, error) {
	var base struct {
		Type InboundType `json:"type"`
	}
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, fmt.Errorf("malformed inbound record: %w", err)
	}

	switch base.Type {
	case InboundTypeInit:
		var m Init
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeUserMessage:
		var m UserMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeToolApproval:
		var m ToolApproval
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeQuestionAnswer:
		var m QuestionAnswer
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeInterrupt:
		var m Interrupt
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypePermissionMode:
		var m PermissionMode
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeModelChange:
		var m ModelChange
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case InboundTypeSessionCommand:
		var m SessionCommand
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown inbound record type %q", base.Type)
	}
}
