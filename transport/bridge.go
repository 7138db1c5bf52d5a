package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bazelment/agentbroker/broker"
	"github.com/bazelment/agentbroker/wire"
)

// Bridge pumps records between one Conn and one Session: inbound records
// dispatch to the session's handlers, outbound records drain to the conn.
type Bridge struct {
	conn    Conn
	session *broker.Session
}

// NewBridge pairs a connection with a session.
func NewBridge(conn Conn, session *broker.Session) *Bridge {
	return &Bridge{conn: conn, session: session}
}

// Run performs the protocol handshake, attaches the agent process, and
// pumps records until the connection closes or ctx is cancelled. The
// session is shut down before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	defer func() {
		if err := b.session.Shutdown(); err != nil {
			slog.Warn("session shutdown", "error", err)
		}
	}()

	if err := b.handshake(); err != nil {
		return err
	}

	if err := b.session.Initialize(ctx); err != nil {
		b.writeError(err)
		return err
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for out := range b.session.Outbound() {
			if err := b.writeOutbound(out); err != nil {
				slog.Warn("writing outbound record", "error", err)
				return
			}
		}
	}()

	err := b.readLoop(ctx)

	// Shutdown closes the outbound channel; wait for the drain so no
	// record is lost on a clean disconnect.
	if serr := b.session.Shutdown(); serr != nil {
		slog.Warn("session shutdown", "error", serr)
	}
	<-forwarded
	return err
}

// handshake expects an init record and acknowledges it. A version other
// than wire.Version is the one unrecoverable handshake failure.
func (b *Bridge) handshake() error {
	line, err := b.conn.ReadRecord()
	if err != nil {
		return fmt.Errorf("reading init record: %w", err)
	}

	rec, err := wire.ParseInbound(line)
	if err != nil {
		b.writeOutbound(wire.NewError(err.Error(), false))
		return err
	}

	init, ok := rec.(wire.Init)
	if !ok {
		err := fmt.Errorf("expected init record, got %q", rec.InboundKind())
		b.writeOutbound(wire.NewError(err.Error(), false))
		return err
	}
	if init.Version != wire.Version {
		err := fmt.Errorf("protocol version mismatch: peer %q, broker %q", init.Version, wire.Version)
		b.writeOutbound(wire.NewError(err.Error(), false))
		return err
	}

	return b.writeOutbound(wire.NewAck())
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		line, err := b.conn.ReadRecord()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		rec, err := wire.ParseInbound(line)
		if err != nil {
			// A record outside the closed union is rejected, not fatal.
			b.writeOutbound(wire.NewError(err.Error(), true))
			continue
		}

		b.dispatch(ctx, rec)
	}
}

// dispatch routes one inbound record. User messages run on their own
// goroutine: a turn is synchronous, and interrupts and approvals must
// still be readable while it runs.
func (b *Bridge) dispatch(ctx context.Context, rec wire.Inbound) {
	switch m := rec.(type) {
	case wire.UserMessage:
		go func() {
			if err := b.session.HandleUserMessage(ctx, m); err != nil {
				b.writeError(err)
			}
		}()
	case wire.ToolApproval:
		if err := b.session.HandleToolApproval(m); err != nil {
			b.writeError(err)
		}
	case wire.QuestionAnswer:
		if err := b.session.HandleQuestionAnswer(m); err != nil {
			b.writeError(err)
		}
	case wire.Interrupt:
		if err := b.session.HandleInterrupt(ctx); err != nil {
			b.writeError(err)
		}
	case wire.PermissionMode:
		if err := b.session.HandlePermissionMode(m.Mode); err != nil {
			b.writeError(err)
		}
	case wire.ModelChange:
		if err := b.session.HandleModelChange(m.Model); err != nil {
			b.writeError(err)
		}
	case wire.SessionCommand:
		if err := b.session.HandleSessionCommand(ctx, m.Command); err != nil {
			b.writeError(err)
		}
	case wire.Init:
		b.writeOutbound(wire.NewError("duplicate init record", true))
	default:
		b.writeOutbound(wire.NewError(fmt.Sprintf("unhandled record %q", rec.InboundKind()), true))
	}
}

// writeError reports a handler failure to the peer. Stream-ended turn
// failures are skipped: the session already emitted them.
func (b *Bridge) writeError(err error) {
	if errors.Is(err, broker.ErrStreamEnded) {
		return
	}
	b.writeOutbound(wire.NewError(err.Error(), broker.IsRecoverable(err)))
}

func (b *Bridge) writeOutbound(out wire.Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return b.conn.WriteRecord(data)
}
