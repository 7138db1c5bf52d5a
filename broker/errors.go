package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrNotInitialized = errors.New("no agent process attached")
	ErrAlreadyStarted = errors.New("session already initialized")
	ErrTurnInFlight   = errors.New("a turn is already in flight")
	ErrShuttingDown   = errors.New("session is shutting down")
	ErrUnknownRequest = errors.New("no pending control exchange for request id")
	ErrStreamEnded    = errors.New("agent output ended before a terminal record")
	ErrInvalidState   = errors.New("invalid session state transition")
)

// ValidationError rejects a user envelope before anything is written to
// the agent process.
type ValidationError struct {
	Reason   string
	Filename string
}

func (e *ValidationError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("invalid attachment %q: %s", e.Filename, e.Reason)
	}
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// Attachment rejection reasons.
const (
	ReasonUnsupportedAttachmentType = "unsupported attachment type"
	ReasonAttachmentTooLarge        = "attachment too large"
)

// ProtocolError represents a malformed or unparseable wire record.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// ProcessError represents a process-level failure (spawn, pipe, exit).
type ProcessError struct {
	Cause   error
	Message string
	Stderr  []string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// CLINotFoundError indicates the agent CLI binary was not found.
type CLINotFoundError struct {
	Path  string
	Cause error
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("agent CLI not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error {
	return e.Cause
}

// TurnError wraps a failure while processing a turn. The turn loop exits;
// the session stays usable.
type TurnError struct {
	Cause     error
	MessageID string
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed: %v", e.MessageID, e.Cause)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether the session remains usable after err.
// Everything surfaced from within a turn is recoverable, including an
// output stream that ended mid-turn. Process spawn failures are fatal.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, ErrStreamEnded) {
		return true
	}

	var cliErr *CLINotFoundError
	if errors.As(err, &cliErr) {
		return false
	}

	var procErr *ProcessError
	if errors.As(err, &procErr) {
		return false
	}

	return true
}
