package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg, err := Load(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.WorkDir != tmpDir {
			t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, tmpDir)
		}
		if cfg.Listen != "127.0.0.1:8754" {
			t.Errorf("Listen = %q, want default", cfg.Listen)
		}
		if cfg.Model != "" {
			t.Errorf("Model = %q, want empty", cfg.Model)
		}
	})

	t.Run("valid yaml file", func(t *testing.T) {
		tmpDir := t.TempDir()
		content := `
cli_path: /usr/local/bin/claude
model: sonnet
permission_mode: acceptEdits
listen: 127.0.0.1:9100
log_dir: /var/log/agentbroker
verbose: true
env:
  HTTP_PROXY: http://proxy:3128
`
		if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := Load(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.CLIPath != "/usr/local/bin/claude" {
			t.Errorf("CLIPath = %q", cfg.CLIPath)
		}
		if cfg.Model != "sonnet" {
			t.Errorf("Model = %q, want sonnet", cfg.Model)
		}
		if cfg.PermissionMode != "acceptEdits" {
			t.Errorf("PermissionMode = %q, want acceptEdits", cfg.PermissionMode)
		}
		if cfg.Listen != "127.0.0.1:9100" {
			t.Errorf("Listen = %q, want 127.0.0.1:9100", cfg.Listen)
		}
		if !cfg.Verbose {
			t.Error("Verbose = false, want true")
		}
		if cfg.Env["HTTP_PROXY"] != "http://proxy:3128" {
			t.Errorf("Env = %v, want HTTP_PROXY set", cfg.Env)
		}
		if cfg.WorkDir != tmpDir {
			t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, tmpDir)
		}
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte("model: [unclosed"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		if _, err := Load(tmpDir); err == nil {
			t.Fatal("expected error for malformed yaml")
		}
	})

	t.Run("explicit work_dir preserved", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte("work_dir: /srv/project\n"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := Load(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.WorkDir != "/srv/project" {
			t.Errorf("WorkDir = %q, want /srv/project", cfg.WorkDir)
		}
	})
}
