package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bazelment/agentbroker/internal/ndjson"
	"github.com/bazelment/agentbroker/internal/procattr"
)

// shutdownGrace is how long Stop waits for natural exit after closing the
// process's input stream before force-terminating.
const shutdownGrace = 5 * time.Second

// wireMessage is anything serializable to a single protocol line.
type wireMessage interface {
	Marshal() ([]byte, error)
}

// agentProcess abstracts the external agent CLI process so the session
// manager's turn loop can be exercised against a fake in tests.
type agentProcess interface {
	Start(ctx context.Context) error
	WriteMessage(m wireMessage) error
	ReadLine() ([]byte, error)
	CloseInput() error
	Stop() error
	StderrTail() []string
}

// spawnMode selects how the CLI attaches to conversation history. At most
// one of Resume, Continue, or SessionID may be set; Fork additionally
// requires Resume or Continue.
type spawnMode struct {
	Resume    string
	SessionID string
	Continue  bool
	Fork      bool
}

func (m spawnMode) validate() error {
	set := 0
	if m.Resume != "" {
		set++
	}
	if m.Continue {
		set++
	}
	if m.SessionID != "" {
		set++
	}
	if set > 1 {
		return fmt.Errorf("at most one of resume, continue, session-id may be set")
	}
	if m.Fork && m.Resume == "" && !m.Continue {
		return fmt.Errorf("fork requires resume or continue")
	}
	return nil
}

// processManager owns one agent CLI process: its pipes, line framing, and
// the shutdown sequence. It is exclusively owned by a Session.
type processManager struct {
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	cmd        *exec.Cmd
	reader     *ndjson.Reader
	writer     *ndjson.Writer
	config     SessionConfig
	mode       spawnMode
	stderrTail []string
	mu         sync.Mutex
	started    bool
	stopping   bool
	stdinOpen  bool
}

func newProcessManager(config SessionConfig, mode spawnMode) *processManager {
	return &processManager{
		config: config,
		mode:   mode,
	}
}

// BuildCLIArgs builds the spawn arguments from the config and mode.
func (pm *processManager) BuildCLIArgs() ([]string, error) {
	if err := pm.mode.validate(); err != nil {
		return nil, err
	}

	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
		"--replay-user-messages",
	}

	if pm.config.PluginDir != "" {
		args = append(args, "--plugin-dir", pm.config.PluginDir)
	}
	if pm.config.Model != "" {
		args = append(args, "--model", pm.config.Model)
	}
	if pm.config.PermissionMode != "" {
		args = append(args, "--permission-mode", string(pm.config.PermissionMode))
	}

	switch {
	case pm.mode.Resume != "":
		args = append(args, "--resume", pm.mode.Resume)
	case pm.mode.Continue:
		args = append(args, "--continue")
	case pm.mode.SessionID != "":
		args = append(args, "--session-id", pm.mode.SessionID)
	}
	if pm.mode.Fork {
		args = append(args, "--fork-session")
	}

	return args, nil
}

// Start spawns the agent CLI process and begins draining stderr.
func (pm *processManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.started {
		return ErrAlreadyStarted
	}

	args, err := pm.BuildCLIArgs()
	if err != nil {
		return err
	}

	cliPath := pm.config.CLIPath
	if cliPath == "" {
		cliPath = "claude"
	}

	pm.cmd = exec.CommandContext(ctx, cliPath, args...)

	pm.cmd.Env = os.Environ()
	for k, v := range pm.config.Env {
		pm.cmd.Env = append(pm.cmd.Env, k+"="+v)
	}

	// Process group for orphan prevention.
	procattr.Set(pm.cmd)

	if pm.config.WorkDir != "" {
		pm.cmd.Dir = pm.config.WorkDir
	}

	pm.stdin, err = pm.cmd.StdinPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	pm.stdout, err = pm.cmd.StdoutPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	pm.stderr, err = pm.cmd.StderrPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}

	pm.reader = ndjson.NewReader(pm.stdout)
	pm.writer = ndjson.NewWriter(pm.stdin)

	if err := pm.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &CLINotFoundError{Path: cliPath, Cause: err}
		}
		return &ProcessError{Message: "failed to start agent CLI", Cause: err}
	}

	go pm.drainStderr()

	pm.started = true
	pm.stdinOpen = true
	return nil
}

// WriteMessage writes one record to the process's input stream.
func (pm *processManager) WriteMessage(m wireMessage) error {
	pm.mu.Lock()
	writer := pm.writer
	open := pm.stdinOpen
	pm.mu.Unlock()

	if writer == nil {
		return ErrNotInitialized
	}
	if !open {
		return ErrShuttingDown
	}

	b, err := m.Marshal()
	if err != nil {
		return err
	}
	return writer.WriteLine(b)
}

// ReadLine reads the next record line from the process's output stream.
func (pm *processManager) ReadLine() ([]byte, error) {
	pm.mu.Lock()
	reader := pm.reader
	pm.mu.Unlock()

	if reader == nil {
		return nil, ErrNotInitialized
	}
	return reader.ReadLine()
}

// CloseInput closes the process's input stream, signaling end-of-input so
// the CLI can flush remaining output and exit on its own.
func (pm *processManager) CloseInput() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.stdin == nil || !pm.stdinOpen {
		return nil
	}
	pm.stdinOpen = false
	return pm.stdin.Close()
}

// Stop shuts the process down: end-of-input first, then a bounded wait for
// natural exit, then a force kill of the whole process group. The ordering
// is mandatory: killing before closing stdin risks losing output the CLI
// would otherwise flush.
func (pm *processManager) Stop() error {
	pm.mu.Lock()
	if !pm.started || pm.stopping {
		pm.mu.Unlock()
		return nil
	}
	pm.stopping = true
	pm.mu.Unlock()

	_ = pm.CloseInput()

	done := make(chan error, 1)
	go func() {
		done <- pm.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(shutdownGrace):
		// No natural exit, force kill below.
	}

	if pm.cmd.Process != nil {
		_ = procattr.KillGroup(pm.cmd.Process)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
	}

	return nil
}

// StderrTail returns the most recent stderr lines for error context.
func (pm *processManager) StderrTail() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	tail := make([]string, len(pm.stderrTail))
	copy(tail, pm.stderrTail)
	return tail
}

// drainStderr retains a bounded ring of recent stderr lines.
func (pm *processManager) drainStderr() {
	limit := pm.config.StderrTail
	if limit <= 0 {
		limit = 20
	}

	scanner := bufio.NewScanner(pm.stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		pm.mu.Lock()
		pm.stderrTail = append(pm.stderrTail, scanner.Text())
		if len(pm.stderrTail) > limit {
			pm.stderrTail = pm.stderrTail[len(pm.stderrTail)-limit:]
		}
		pm.mu.Unlock()
	}
}
