package broker

import (
	"log/slog"
	"strings"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

// Replayed slash-command output arrives as user records wrapped in
// local-command markup; tool failures arrive wrapped in tool_use_error.
const (
	localStdoutOpen  = "<local-command-stdout>"
	localStdoutClose = "</local-command-stdout>"
	localStderrOpen  = "<local-command-stderr>"
	localStderrClose = "</local-command-stderr>"
	toolErrorOpen    = "<tool_use_error>"
	toolErrorClose   = "</tool_use_error>"
)

// RouteResult is the outcome of dispatching one output record.
type RouteResult struct {
	// Messages are the outbound records to emit, in order.
	Messages []wire.Outbound

	// StreamEvent is set when the record carries an embedded streaming
	// sub-event for the accumulator.
	StreamEvent *protocol.StreamEvent

	// ControlRequest is set when the record needs a pending-exchange
	// registration before its forwarded request is emitted.
	ControlRequest *protocol.ToolUseRequest

	// ControlParentTaskID is the subtask attribution of ControlRequest.
	ControlParentTaskID string

	// CancelledRequestID is set when the agent withdrew a control request.
	CancelledRequestID string

	// SessionID is the session identifier observed on the record, if any.
	SessionID string

	// Terminal marks the turn's terminal record.
	Terminal bool
}

// router dispatches the output records of one turn. Cost attribution spans
// turns, so the cumulative total is owned by the session and threaded in
// through addCost.
type router struct {
	messageID string
	nextSeq   func() uint64
	addCost   func(turnCost float64) float64
}

func newRouter(messageID string, nextSeq func() uint64, addCost func(float64) float64) *router {
	return &router{
		messageID: messageID,
		nextSeq:   nextSeq,
		addCost:   addCost,
	}
}

// RouteEvent dispatches one parsed output record.
func (r *router) RouteEvent(msg protocol.Message) (RouteResult, error) {
	switch m := msg.(type) {
	case protocol.SystemMessage:
		return r.routeSystem(m), nil
	case protocol.AssistantMessage:
		return r.routeAssistant(m), nil
	case protocol.UserMessage:
		return r.routeUser(m), nil
	case protocol.ResultMessage:
		return r.routeResult(m), nil
	case protocol.StreamEvent:
		return RouteResult{StreamEvent: &m, SessionID: m.SessionID}, nil
	case protocol.ControlRequest:
		return r.routeControlRequest(m), nil
	case protocol.ControlCancelRequest:
		return RouteResult{CancelledRequestID: m.RequestID}, nil
	case protocol.ControlResponseReceived:
		slog.Debug("control response from agent",
			"subtype", m.Response.Subtype,
			"request_id", m.Response.RequestID,
			"error", m.Response.Error)
		return RouteResult{}, nil
	case protocol.KeepAlive:
		return RouteResult{}, nil
	default:
		slog.Warn("skipping unroutable message", "type", msg.MsgType())
		return RouteResult{}, nil
	}
}

func (r *router) routeSystem(m protocol.SystemMessage) RouteResult {
	switch m.Subtype {
	case protocol.SystemSubtypeInit:
		meta := wire.SystemMetadata{
			Type:           wire.OutboundTypeSystemMetadata,
			Version:        wire.Version,
			ParentTaskID:   deref(m.ParentToolUseID),
			SessionID:      m.SessionID,
			Model:          m.Model,
			PermissionMode: m.PermissionMode,
			WorkDir:        m.CWD,
			AgentVersion:   m.AgentVersion,
			Tools:          m.Tools,
			SlashCommands:  m.SlashCommands,
			Agents:         m.Agents,
			Skills:         m.Skills,
		}
		for _, p := range m.Plugins {
			meta.Plugins = append(meta.Plugins, wire.Plugin{Name: p.Name, Path: p.Path})
		}
		return RouteResult{Messages: []wire.Outbound{meta}, SessionID: m.SessionID}

	case protocol.SystemSubtypeCompactBoundary:
		return RouteResult{
			Messages: []wire.Outbound{wire.CompactBoundary{
				Type:         wire.OutboundTypeCompactBoundary,
				Version:      wire.Version,
				ParentTaskID: deref(m.ParentToolUseID),
			}},
			SessionID: m.SessionID,
		}

	default:
		slog.Debug("skipping system record", "subtype", m.Subtype)
		return RouteResult{SessionID: m.SessionID}
	}
}

// routeAssistant handles complete assistant records. Text blocks are not
// re-emitted: the streamed partials already carried the full text. Tool
// uses are emitted here with their complete input, and thinking blocks
// with their final text.
func (r *router) routeAssistant(m protocol.AssistantMessage) RouteResult {
	parent := deref(m.ParentToolUseID)

	var out []wire.Outbound
	if blocks, ok := m.Message.Content.AsBlocks(); ok {
		for _, block := range blocks {
			switch b := block.(type) {
			case protocol.ToolUseBlock:
				out = append(out, wire.ToolUse{
					Type:         wire.OutboundTypeToolUse,
					Version:      wire.Version,
					ParentTaskID: parent,
					MessageID:    r.messageID,
					Seq:          r.nextSeq(),
					ToolUseID:    b.ID,
					ToolName:     b.Name,
					Input:        b.Input,
				})
			case protocol.ThinkingBlock:
				out = append(out, wire.ThinkingText{
					Type:         wire.OutboundTypeThinkingText,
					Version:      wire.Version,
					ParentTaskID: parent,
					MessageID:    r.messageID,
					Seq:          r.nextSeq(),
					Text:         b.Thinking,
					Partial:      false,
				})
			}
		}
	}

	return RouteResult{Messages: out, SessionID: m.SessionID}
}

// routeUser handles user records: tool results echoed back by the agent,
// and replayed prior user messages carrying slash-command output.
func (r *router) routeUser(m protocol.UserMessage) RouteResult {
	parent := deref(m.ParentToolUseID)

	if s, ok := m.Message.Content.AsString(); ok {
		return RouteResult{Messages: r.replayedUserText(s), SessionID: m.SessionID}
	}

	blocks, ok := m.Message.Content.AsBlocks()
	if !ok {
		return RouteResult{SessionID: m.SessionID}
	}

	var out []wire.Outbound
	structuredSent := false
	for _, block := range blocks {
		switch b := block.(type) {
		case protocol.ToolResultBlock:
			content := b.ContentText()
			isError := b.IsError != nil && *b.IsError
			if inner, stripped := stripWrapped(content, toolErrorOpen, toolErrorClose); stripped {
				content = inner
				isError = true
			}
			out = append(out, wire.ToolResult{
				Type:         wire.OutboundTypeToolResult,
				Version:      wire.Version,
				ParentTaskID: parent,
				MessageID:    r.messageID,
				Seq:          r.nextSeq(),
				ToolUseID:    b.ToolUseID,
				Content:      content,
				IsError:      isError,
			})
			// The structured result belongs to the record, not to each
			// block; it is attached to the first tool result's id only.
			if !structuredSent && len(m.ToolUseResult) > 0 {
				structuredSent = true
				out = append(out, wire.StructuredToolResult{
					Type:         wire.OutboundTypeStructuredToolResult,
					Version:      wire.Version,
					ParentTaskID: parent,
					MessageID:    r.messageID,
					Seq:          r.nextSeq(),
					ToolUseID:    b.ToolUseID,
					Result:       m.ToolUseResult,
				})
			}
		case protocol.TextBlock:
			out = append(out, r.replayedUserText(b.Text)...)
		}
	}

	return RouteResult{Messages: out, SessionID: m.SessionID}
}

// replayedUserText classifies replayed user text. Slash-command stdout
// surfaces as a complete answer, stderr as a recoverable error. A plain
// echo of the user's own input produces nothing.
func (r *router) replayedUserText(text string) []wire.Outbound {
	if inner, ok := stripWrapped(text, localStdoutOpen, localStdoutClose); ok {
		if inner == "" {
			return nil
		}
		return []wire.Outbound{wire.AssistantText{
			Type:      wire.OutboundTypeAssistantText,
			Version:   wire.Version,
			MessageID: r.messageID,
			Seq:       r.nextSeq(),
			Text:      inner,
			Partial:   false,
		}}
	}
	if inner, ok := stripWrapped(text, localStderrOpen, localStderrClose); ok {
		return []wire.Outbound{wire.NewError(inner, true)}
	}
	return nil
}

// routeResult handles the terminal record. A successful result's final
// text, when it was not streamed, still reaches the UI as one complete
// answer; the cost update always precedes the turn completion derived
// from the same record.
func (r *router) routeResult(m protocol.ResultMessage) RouteResult {
	result, errText := classifyResult(m)

	var msgs []wire.Outbound
	if result == wire.TurnResultSuccess && m.Result != "" {
		msgs = append(msgs, wire.AssistantText{
			Type:         wire.OutboundTypeAssistantText,
			Version:      wire.Version,
			ParentTaskID: deref(m.ParentToolUseID),
			MessageID:    r.messageID,
			Seq:          r.nextSeq(),
			Text:         m.Result,
			Partial:      false,
		})
	}

	cost := wire.CostUpdate{
		Type:         wire.OutboundTypeCostUpdate,
		Version:      wire.Version,
		ParentTaskID: deref(m.ParentToolUseID),
		Usage: wire.UsageTotals{
			InputTokens:              m.Usage.InputTokens,
			OutputTokens:             m.Usage.OutputTokens,
			CacheReadInputTokens:     m.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: m.Usage.CacheCreationInputTokens,
		},
		TotalCostUSD:      m.TotalCostUSD,
		CumulativeCostUSD: r.addCost(m.TotalCostUSD),
		NumTurns:          m.NumTurns,
		DurationMs:        m.DurationMs,
		DurationAPIMs:     m.DurationAPIMs,
	}
	for model, u := range m.ModelUsage {
		if cost.ModelUsage == nil {
			cost.ModelUsage = make(map[string]wire.ModelCost, len(m.ModelUsage))
		}
		cost.ModelUsage[model] = wire.ModelCost{
			InputTokens:          u.InputTokens,
			OutputTokens:         u.OutputTokens,
			CacheReadInputTokens: u.CacheReadInputTokens,
			CostUSD:              u.CostUSD,
			ContextWindow:        u.ContextWindow,
		}
	}

	complete := wire.TurnComplete{
		Type:         wire.OutboundTypeTurnComplete,
		Version:      wire.Version,
		ParentTaskID: deref(m.ParentToolUseID),
		MessageID:    r.messageID,
		Seq:          r.nextSeq(),
		Result:       result,
		Error:        errText,
	}

	return RouteResult{
		Messages:  append(msgs, cost, complete),
		SessionID: m.SessionID,
		Terminal:  true,
	}
}

func (r *router) routeControlRequest(m protocol.ControlRequest) RouteResult {
	req := protocol.ParseToolUseRequest(m)
	if req == nil {
		// Unknown or malformed control subtype, already logged by the parser.
		return RouteResult{}
	}
	return RouteResult{
		ControlRequest:      req,
		ControlParentTaskID: deref(m.ParentToolUseID),
	}
}

// classifyResult maps a terminal record to a turn result. Only the success
// subtype without an error flag counts as success, and even then an API
// error embedded in the result text marks the turn failed.
func classifyResult(m protocol.ResultMessage) (result, errText string) {
	if m.Subtype == protocol.ResultSubtypeSuccess && !m.IsError {
		if strings.Contains(m.Result, "API Error") {
			return wire.TurnResultError, m.Result
		}
		return wire.TurnResultSuccess, ""
	}

	errText = m.Result
	if errText == "" {
		errText = m.Subtype
	}
	return wire.TurnResultError, errText
}

// stripWrapped returns the trimmed inner text when s consists of open and
// close markers around a payload.
func stripWrapped(s, openTag, closeTag string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, openTag) {
		return "", false
	}
	inner := strings.TrimPrefix(trimmed, openTag)
	if idx := strings.LastIndex(inner, closeTag); idx >= 0 {
		inner = inner[:idx]
	}
	return strings.TrimSpace(inner), true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
