package broker

import (
	"strings"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

// streamAccumulator maps embedded streaming sub-events to partial text
// records for one turn. Answer text and thinking text accumulate in
// independent buffers; each partial answer fragment carries a strictly
// increasing per-turn revision so the UI can discard stale renders.
type streamAccumulator struct {
	messageID    string
	parentTaskID string
	nextSeq      func() uint64
	revision     int
	text         strings.Builder
	thinking     strings.Builder
	turnText     strings.Builder
}

func newStreamAccumulator(messageID string, nextSeq func() uint64) *streamAccumulator {
	return &streamAccumulator{
		messageID: messageID,
		nextSeq:   nextSeq,
	}
}

// HandleEvent maps one stream sub-event to zero or more outbound records.
// Lifecycle markers and tool-input fragments produce nothing; the complete
// tool input arrives with the assistant record.
func (a *streamAccumulator) HandleEvent(ev *protocol.StreamEvent) ([]wire.Outbound, error) {
	if ev.ParentToolUseID != nil {
		a.parentTaskID = *ev.ParentToolUseID
	} else {
		a.parentTaskID = ""
	}

	parsed, err := ev.ParsedEvent()
	if err != nil {
		return nil, &ProtocolError{Message: "malformed stream event", Cause: err}
	}
	if parsed == nil {
		return nil, nil
	}

	switch e := parsed.(type) {
	case protocol.ContentBlockStartEvent:
		return a.handleBlockStart(e)
	case protocol.ContentBlockDeltaEvent:
		return a.handleBlockDelta(e)
	case protocol.MessageStopEvent:
		a.flushMessage()
		return nil, nil
	default:
		// message_start, content_block_stop, message_delta carry nothing
		// worth forwarding incrementally.
		return nil, nil
	}
}

// handleBlockStart announces a tool invocation as soon as its block opens,
// before the input has finished streaming.
func (a *streamAccumulator) handleBlockStart(e protocol.ContentBlockStartEvent) ([]wire.Outbound, error) {
	block, err := e.ParsedBlock()
	if err != nil {
		return nil, &ProtocolError{Message: "malformed content block", Cause: err}
	}

	tool, ok := block.(protocol.ToolUseBlock)
	if !ok {
		return nil, nil
	}

	return []wire.Outbound{wire.ToolUse{
		Type:         wire.OutboundTypeToolUse,
		Version:      wire.Version,
		ParentTaskID: a.parentTaskID,
		MessageID:    a.messageID,
		Seq:          a.nextSeq(),
		ToolUseID:    tool.ID,
		ToolName:     tool.Name,
	}}, nil
}

func (a *streamAccumulator) handleBlockDelta(e protocol.ContentBlockDeltaEvent) ([]wire.Outbound, error) {
	delta, err := e.ParsedDelta()
	if err != nil {
		return nil, &ProtocolError{Message: "malformed content block delta", Cause: err}
	}
	if delta == nil {
		return nil, nil
	}

	switch d := delta.(type) {
	case protocol.TextDelta:
		a.text.WriteString(d.Text)
		a.turnText.WriteString(d.Text)
		// Tag with the current revision, then advance: the first
		// fragment of a turn carries revision zero.
		out := wire.AssistantText{
			Type:         wire.OutboundTypeAssistantText,
			Version:      wire.Version,
			ParentTaskID: a.parentTaskID,
			MessageID:    a.messageID,
			Seq:          a.nextSeq(),
			Revision:     a.revision,
			Text:         a.text.String(),
			Partial:      true,
		}
		a.revision++
		return []wire.Outbound{out}, nil

	case protocol.ThinkingDelta:
		a.thinking.WriteString(d.Thinking)
		return []wire.Outbound{wire.ThinkingText{
			Type:         wire.OutboundTypeThinkingText,
			Version:      wire.Version,
			ParentTaskID: a.parentTaskID,
			MessageID:    a.messageID,
			Seq:          a.nextSeq(),
			Text:         a.thinking.String(),
			Partial:      true,
		}}, nil

	default:
		return nil, nil
	}
}

// flushMessage resets the per-message buffers. A turn can contain several
// streamed messages separated by tool executions; the revision counter
// stays monotonic across all of them.
func (a *streamAccumulator) flushMessage() {
	a.text.Reset()
	a.thinking.Reset()
}

// TurnText returns all answer text accumulated so far in the turn. Used to
// attach partial output to a cancellation record.
func (a *streamAccumulator) TurnText() string {
	return a.turnText.String()
}
