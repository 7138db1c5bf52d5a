// Package broker mediates between a UI-facing control surface and a
// long-running external agent CLI process. One Session owns one process,
// validates inbound records, and translates the process's output stream
// into the internal protocol's outbound records.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bazelment/agentbroker/protocol"
	"github.com/bazelment/agentbroker/wire"
)

// defaultSessionFile is the session-identifier file name under WorkDir.
const defaultSessionFile = ".agentbroker-session"

// placeholderSessionID announces attachment before the external process's
// handshake has supplied the authoritative identifier.
const placeholderSessionID = "pending"

// Session brokers one conversation. At most one turn is in flight at a
// time; a user message arriving mid-turn is rejected, not queued.
type Session struct {
	config     SessionConfig
	state      *stateMachine
	correlator *correlator
	outbound   chan wire.Outbound

	// newProcess spawns an agent process for the given mode. Replaced in
	// tests with a fake.
	newProcess func(config SessionConfig, mode spawnMode) agentProcess

	procMu sync.Mutex
	proc   agentProcess

	idMu        sync.Mutex
	sessionID   string
	persistedID string

	costMu         sync.Mutex
	cumulativeCost float64

	seq         atomic.Uint64
	controlSeq  atomic.Uint64
	turnActive  atomic.Bool
	interrupted atomic.Bool

	// turnWG tracks the in-flight turn so Shutdown can wait for it to
	// drain before closing the outbound channel.
	turnWG sync.WaitGroup

	closeOnce sync.Once
}

// NewSession constructs a session with the given options. Initialize must
// be called before any message handling.
func NewSession(opts ...SessionOption) *Session {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Session{
		config:     config,
		state:      newStateMachine(),
		correlator: newCorrelator(),
		outbound:   make(chan wire.Outbound, config.OutboundBufferSize),
		newProcess: func(config SessionConfig, mode spawnMode) agentProcess {
			return newProcessManager(config, mode)
		},
	}
}

// Outbound returns the channel of records to forward to the UI. It is
// closed by Shutdown after the process has stopped.
func (s *Session) Outbound() <-chan wire.Outbound {
	return s.outbound
}

// Initialize attaches the agent process, resuming the persisted
// conversation when a session-identifier file exists and is readable,
// starting fresh otherwise.
func (s *Session) Initialize(ctx context.Context) error {
	persisted := s.loadPersistedID()

	var mode spawnMode
	target := StateCreating
	if persisted != "" {
		mode.Resume = persisted
		target = StateResuming
	}

	if err := s.state.TransitionTo(target); err != nil {
		return err
	}

	if err := s.attachProcess(ctx, mode); err != nil {
		return err
	}

	if err := s.state.TransitionTo(StateReady); err != nil {
		return err
	}

	announced := placeholderSessionID
	if persisted != "" {
		announced = persisted
		s.idMu.Lock()
		s.sessionID = persisted
		s.persistedID = persisted
		s.idMu.Unlock()
	}
	s.emit(wire.NewSessionInit(announced, persisted != ""))
	return nil
}

// HandleUserMessage validates and submits one turn of user input, then
// processes the process's output synchronously until the turn's terminal
// record. Returns ErrTurnInFlight when a turn is already running.
func (s *Session) HandleUserMessage(ctx context.Context, msg wire.UserMessage) error {
	if !s.state.Is(StateReady) {
		if s.state.Is(StateShuttingDown, StateTerminated) {
			return ErrShuttingDown
		}
		return ErrNotInitialized
	}

	if !s.turnActive.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer s.turnActive.Store(false)

	s.turnWG.Add(1)
	defer s.turnWG.Done()

	// A shutdown that began between the state check above and the
	// registration here must not start a turn against a dead process.
	if !s.state.Is(StateReady) {
		return ErrShuttingDown
	}

	blocks, err := BuildContentBlocks(msg.Text, msg.Attachments)
	if err != nil {
		return err
	}

	s.interrupted.Store(false)
	messageID := uuid.NewString()

	proc, err := s.requireProcess()
	if err != nil {
		return err
	}
	if err := proc.WriteMessage(protocol.NewUserMessage(blocks)); err != nil {
		return &TurnError{MessageID: messageID, Cause: err}
	}

	return s.runTurn(ctx, messageID)
}

// runTurn drives one turn: read, parse, route, emit, until the terminal
// record or stream end.
func (s *Session) runTurn(ctx context.Context, messageID string) error {
	rt := newRouter(messageID, s.nextSeq, s.addCost)
	acc := newStreamAccumulator(messageID, s.nextSeq)
	proc := s.process()

	for {
		if err := ctx.Err(); err != nil {
			return &TurnError{MessageID: messageID, Cause: err}
		}

		line, err := proc.ReadLine()
		if err != nil {
			return s.finishEndedTurn(messageID, acc, proc, err)
		}

		msg, err := protocol.ParseMessage(line)
		if err != nil {
			// One malformed line must not abort the turn.
			slog.Warn("skipping malformed output record", "error", err, "line", truncateLine(line))
			continue
		}
		if msg == nil {
			continue
		}

		res, err := rt.RouteEvent(msg)
		if err != nil {
			slog.Warn("skipping unroutable output record", "error", err)
			continue
		}

		if res.SessionID != "" {
			s.observeSessionID(res.SessionID)
		}

		for _, out := range res.Messages {
			s.emit(out)
		}

		if res.StreamEvent != nil {
			outs, err := acc.HandleEvent(res.StreamEvent)
			if err != nil {
				slog.Warn("skipping malformed stream event", "error", err)
				continue
			}
			for _, out := range outs {
				s.emit(out)
			}
		}

		if res.ControlRequest != nil {
			s.emit(s.correlator.Register(res.ControlRequest, res.ControlParentTaskID))
		}

		if res.CancelledRequestID != "" {
			if cancelled, ok := s.correlator.Cancel(res.CancelledRequestID); ok {
				s.emit(cancelled)
			}
		}

		if res.Terminal {
			return nil
		}
	}
}

// finishEndedTurn classifies an output stream that ended before the
// terminal record: a requested interrupt yields a cancellation carrying
// the accumulated partial text, anything else is a process failure.
func (s *Session) finishEndedTurn(messageID string, acc *streamAccumulator, proc agentProcess, cause error) error {
	if s.interrupted.Load() {
		s.emit(wire.NewTurnCancelled(messageID, s.nextSeq(), acc.TurnText()))
		return nil
	}

	procErr := &ProcessError{
		Message: "agent output ended before the turn completed",
		Cause:   ErrStreamEnded,
		Stderr:  proc.StderrTail(),
	}
	slog.Error("agent stream ended mid-turn",
		"message_id", messageID,
		"cause", cause,
		"stderr", strings.Join(procErr.Stderr, "\n"))
	s.emit(wire.NewError(procErr.Error(), IsRecoverable(procErr)))
	return &TurnError{MessageID: messageID, Cause: procErr}
}

// HandleToolApproval resolves a pending permission request. An unknown
// request id is a logged no-op for the agent but still an error to the
// caller.
func (s *Session) HandleToolApproval(approval wire.ToolApproval) error {
	resp, err := s.correlator.Approve(approval)
	if err != nil {
		slog.Warn("approval for unknown control exchange", "request_id", approval.RequestID)
		return err
	}
	proc, err := s.requireProcess()
	if err != nil {
		return err
	}
	return proc.WriteMessage(resp)
}

// HandleQuestionAnswer resolves a pending clarifying-question request.
func (s *Session) HandleQuestionAnswer(answer wire.QuestionAnswer) error {
	resp, err := s.correlator.Answer(answer)
	if err != nil {
		slog.Warn("answer for unknown control exchange", "request_id", answer.RequestID)
		return err
	}
	proc, err := s.requireProcess()
	if err != nil {
		return err
	}
	return proc.WriteMessage(resp)
}

// HandleInterrupt requests cooperative cancellation of the in-flight turn.
// The interrupt is a protocol-level request, never an OS signal; the
// process stays alive for the next turn.
func (s *Session) HandleInterrupt(ctx context.Context) error {
	proc, err := s.requireProcess()
	if err != nil {
		return err
	}
	s.interrupted.Store(true)
	return proc.WriteMessage(protocol.NewInterrupt(s.nextControlID()))
}

// HandlePermissionMode switches the permission mode at runtime. The mode
// is stored immediately so any process spawned later picks it up, even
// when no process is currently attached; the detached case is a logged
// no-op for the control request itself.
func (s *Session) HandlePermissionMode(mode string) error {
	s.config.PermissionMode = PermissionMode(mode)

	proc, err := s.requireProcess()
	if err != nil {
		slog.Warn("permission mode stored without an attached process", "mode", mode)
		return nil
	}
	return proc.WriteMessage(protocol.NewSetPermissionMode(s.nextControlID(), mode))
}

// HandleModelChange switches the active model at runtime. The new model
// also applies to any process spawned later.
func (s *Session) HandleModelChange(model string) error {
	proc, err := s.requireProcess()
	if err != nil {
		return err
	}
	if err := proc.WriteMessage(protocol.NewSetModel(s.nextControlID(), model)); err != nil {
		return err
	}
	s.config.Model = model
	return nil
}

// HandleSessionCommand replaces the attached process wholesale: fork
// branches the current conversation, continue reattaches to the most
// recent one, new starts blank and drops the persisted identifier.
// Rejected while a turn is in flight.
func (s *Session) HandleSessionCommand(ctx context.Context, command string) error {
	if s.turnActive.Load() {
		return ErrTurnInFlight
	}

	var (
		mode    spawnMode
		target  State
		resumed bool
	)
	switch command {
	case wire.SessionCommandFork:
		id := s.currentSessionID()
		if id == "" || id == placeholderSessionID {
			return fmt.Errorf("fork: no session to fork from")
		}
		mode = spawnMode{Resume: id, Fork: true}
		target = StateForking
		resumed = true
	case wire.SessionCommandContinue:
		mode = spawnMode{Continue: true}
		target = StateContinuing
		resumed = true
	case wire.SessionCommandNew:
		target = StateStartingFresh
	default:
		return fmt.Errorf("unknown session command %q", command)
	}

	if err := s.state.TransitionTo(target); err != nil {
		return err
	}

	if proc := s.process(); proc != nil {
		if err := proc.Stop(); err != nil {
			slog.Warn("stopping agent process", "error", err)
		}
	}
	// Pending exchanges belong to the old process; the new one never
	// issued them.
	s.correlator.Reset()

	// The replacement process reports its own identifier; stop trusting
	// the old one so the first observed id gets re-persisted.
	s.idMu.Lock()
	s.sessionID = ""
	s.persistedID = ""
	s.idMu.Unlock()
	if command == wire.SessionCommandNew {
		s.clearPersistedID()
	}

	if err := s.attachProcess(ctx, mode); err != nil {
		if terr := s.state.TransitionTo(StateTerminated); terr != nil {
			slog.Warn("state transition after failed respawn", "error", terr)
		}
		return err
	}

	if err := s.state.TransitionTo(StateReady); err != nil {
		return err
	}

	s.emit(wire.NewSessionInit(placeholderSessionID, resumed))
	return nil
}

// Shutdown tears the session down: end-of-input to the process, bounded
// wait, then force kill. Idempotent.
func (s *Session) Shutdown() error {
	if s.state.Is(StateTerminated) {
		return nil
	}
	if err := s.state.TransitionTo(StateShuttingDown); err != nil {
		// Already shutting down on another goroutine.
		return nil
	}

	var stopErr error
	if proc := s.process(); proc != nil {
		stopErr = proc.Stop()
	}

	// Stopping the process ends its output stream, but the turn loop may
	// observe the EOF after Stop returns. Wait for the in-flight turn to
	// emit its final records before closing the channel under it.
	s.turnWG.Wait()

	if err := s.state.TransitionTo(StateTerminated); err != nil {
		slog.Warn("state transition during shutdown", "error", err)
	}
	s.closeOnce.Do(func() { close(s.outbound) })
	return stopErr
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return s.state.Current()
}

// SessionID returns the last observed session identifier.
func (s *Session) SessionID() string {
	return s.currentSessionID()
}

func (s *Session) attachProcess(ctx context.Context, mode spawnMode) error {
	proc := s.newProcess(s.config, mode)
	if err := proc.Start(ctx); err != nil {
		return err
	}
	s.procMu.Lock()
	s.proc = proc
	s.procMu.Unlock()
	return nil
}

func (s *Session) process() agentProcess {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc
}

func (s *Session) requireProcess() (agentProcess, error) {
	proc := s.process()
	if proc == nil {
		return nil, ErrNotInitialized
	}
	return proc, nil
}

// observeSessionID records the identifier reported by the process and
// persists it the first time it differs from what is on disk.
func (s *Session) observeSessionID(id string) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	if id == s.sessionID {
		return
	}
	s.sessionID = id

	if id != s.persistedID {
		if err := os.WriteFile(s.sessionFilePath(), []byte(id+"\n"), 0o600); err != nil {
			slog.Warn("persisting session identifier", "error", err)
			return
		}
		s.persistedID = id
	}
}

func (s *Session) currentSessionID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.sessionID
}

func (s *Session) loadPersistedID() string {
	b, err := os.ReadFile(s.sessionFilePath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (s *Session) clearPersistedID() {
	if err := os.Remove(s.sessionFilePath()); err != nil && !os.IsNotExist(err) {
		slog.Warn("removing session identifier file", "error", err)
	}
}

func (s *Session) sessionFilePath() string {
	if s.config.SessionFile != "" {
		return s.config.SessionFile
	}
	return filepath.Join(s.config.WorkDir, defaultSessionFile)
}

// emit forwards one outbound record to the UI channel.
func (s *Session) emit(out wire.Outbound) {
	s.outbound <- out
}

func (s *Session) nextSeq() uint64 {
	return s.seq.Add(1)
}

func (s *Session) nextControlID() string {
	return fmt.Sprintf("req_%d", s.controlSeq.Add(1))
}

// addCost accumulates turn cost into the session's running total.
func (s *Session) addCost(turnCost float64) float64 {
	s.costMu.Lock()
	defer s.costMu.Unlock()
	s.cumulativeCost += turnCost
	return s.cumulativeCost
}

func truncateLine(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
