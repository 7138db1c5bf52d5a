package broker

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestBuildCLIArgs_Baseline(t *testing.T) {
	pm := newProcessManager(defaultConfig(), spawnMode{})
	args, err := pm.BuildCLIArgs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	argsStr := strings.Join(args, " ")
	for _, want := range []string{
		"--input-format stream-json",
		"--output-format stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-prompt-tool stdio",
		"--replay-user-messages",
	} {
		if !strings.Contains(argsStr, want) {
			t.Errorf("expected %q in args: %s", want, argsStr)
		}
	}

	for _, banned := range []string{"--resume", "--continue", "--session-id", "--fork-session"} {
		if strings.Contains(argsStr, banned) {
			t.Errorf("fresh spawn must not contain %q: %s", banned, argsStr)
		}
	}
}

func TestBuildCLIArgs_OptionalFlags(t *testing.T) {
	config := defaultConfig()
	config.Model = "sonnet"
	config.PluginDir = "/plugins"
	config.PermissionMode = PermissionModePlan

	pm := newProcessManager(config, spawnMode{})
	args, err := pm.BuildCLIArgs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	argsStr := strings.Join(args, " ")
	if !strings.Contains(argsStr, "--model sonnet") {
		t.Errorf("expected --model sonnet: %s", argsStr)
	}
	if !strings.Contains(argsStr, "--plugin-dir /plugins") {
		t.Errorf("expected --plugin-dir /plugins: %s", argsStr)
	}
	if !strings.Contains(argsStr, "--permission-mode plan") {
		t.Errorf("expected --permission-mode plan: %s", argsStr)
	}
}

func TestBuildCLIArgs_SpawnModes(t *testing.T) {
	tests := []struct {
		name string
		mode spawnMode
		want []string
	}{
		{"resume", spawnMode{Resume: "s1"}, []string{"--resume s1"}},
		{"continue", spawnMode{Continue: true}, []string{"--continue"}},
		{"session id", spawnMode{SessionID: "s2"}, []string{"--session-id s2"}},
		{"fork from resume", spawnMode{Resume: "s1", Fork: true}, []string{"--resume s1", "--fork-session"}},
		{"fork from continue", spawnMode{Continue: true, Fork: true}, []string{"--continue", "--fork-session"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := newProcessManager(defaultConfig(), tt.mode)
			args, err := pm.BuildCLIArgs()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			argsStr := strings.Join(args, " ")
			for _, want := range tt.want {
				if !strings.Contains(argsStr, want) {
					t.Errorf("expected %q in args: %s", want, argsStr)
				}
			}
		})
	}
}

func TestBuildCLIArgs_InvalidModes(t *testing.T) {
	tests := []struct {
		name string
		mode spawnMode
	}{
		{"resume and continue", spawnMode{Resume: "s1", Continue: true}},
		{"resume and session id", spawnMode{Resume: "s1", SessionID: "s2"}},
		{"continue and session id", spawnMode{Continue: true, SessionID: "s2"}},
		{"fork without history", spawnMode{Fork: true}},
		{"fork with session id only", spawnMode{SessionID: "s2", Fork: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := newProcessManager(defaultConfig(), tt.mode)
			if _, err := pm.BuildCLIArgs(); err == nil {
				t.Error("expected error for invalid spawn mode")
			}
		})
	}
}

func TestProcessManager_StartCLINotFound(t *testing.T) {
	config := defaultConfig()
	config.CLIPath = "agentbroker-test-no-such-binary"

	pm := newProcessManager(config, spawnMode{})
	err := pm.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing binary")
	}

	var notFound *CLINotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected CLINotFoundError, got %T: %v", err, err)
	}
	if IsRecoverable(err) {
		t.Error("a missing CLI is not recoverable")
	}
}

func TestProcessManager_WriteBeforeStart(t *testing.T) {
	pm := newProcessManager(defaultConfig(), spawnMode{})
	if err := pm.WriteMessage(nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestProcessManager_StopClosesInputBeforeKill(t *testing.T) {
	// cat exits only when its stdin reaches EOF. Stop must close stdin
	// first and let the process leave on its own; a kill-first ordering
	// would leave cat blocked on stdin for the full grace period.
	pm := newProcessManager(defaultConfig(), spawnMode{})
	pm.cmd = exec.Command("cat")

	stdin, err := pm.cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	if err := pm.cmd.Start(); err != nil {
		t.Fatalf("starting cat: %v", err)
	}
	pm.stdin = stdin
	pm.started = true
	pm.stdinOpen = true

	start := time.Now()
	if err := pm.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= shutdownGrace {
		t.Errorf("Stop took %v; end-of-input must let the process exit before the grace period", elapsed)
	}
	if pm.stdinOpen {
		t.Error("stdin must be marked closed after Stop")
	}
}
