// Command agentbroker brokers a conversation between a UI-facing control
// surface and a long-running agent CLI process.
//
// Commands:
//   - run: bridge a single session over stdin/stdout
//   - serve: accept websocket connections, one session per connection
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentbroker/broker"
	"github.com/bazelment/agentbroker/config"
	"github.com/bazelment/agentbroker/logging"
	"github.com/bazelment/agentbroker/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentbroker",
		Short: "Session broker for agent CLI processes",
		Long: `agentbroker mediates between a UI and an agent CLI process speaking
newline-delimited JSON.

Use 'run' to bridge one session over stdin/stdout.
Use 'serve' to accept websocket connections, one session per connection.`,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Flags shared by run and serve.
type brokerFlags struct {
	model          string
	workDir        string
	cliPath        string
	pluginDir      string
	permissionMode string
	logDir         string
	verbose        bool
}

func (f *brokerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "Model to spawn with (CLI default when empty)")
	cmd.Flags().StringVar(&f.workDir, "dir", "", "Agent working directory (defaults to current directory)")
	cmd.Flags().StringVar(&f.cliPath, "cli", "", "Agent CLI binary (claude in PATH when empty)")
	cmd.Flags().StringVar(&f.pluginDir, "plugin-dir", "", "Extra plugin directory passed to the CLI")
	cmd.Flags().StringVar(&f.permissionMode, "permission-mode", "", "Initial permission mode: default, acceptEdits, plan, bypassPermissions")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "Directory for log files (stderr-only when empty)")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
}

// loadConfig merges the configuration file with flag overrides.
func (f *brokerFlags) loadConfig() (*config.Config, error) {
	workDir := f.workDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	if f.workDir != "" {
		cfg.WorkDir = f.workDir
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.cliPath != "" {
		cfg.CLIPath = f.cliPath
	}
	if f.pluginDir != "" {
		cfg.PluginDir = f.pluginDir
	}
	if f.permissionMode != "" {
		cfg.PermissionMode = f.permissionMode
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	if f.verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	flags := &brokerFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bridge one session over stdin/stdout",
		Long: `Run bridges a single session over the process's own stdin and stdout.
All log output goes to stderr; stdout carries protocol records only.`,
		Example: `  agentbroker run
  agentbroker run --model sonnet --dir /path/to/project`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			_, cleanup := logging.Setup(cfg.Verbose, cfg.LogDir)
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bridge := transport.NewBridge(transport.NewStdio(), newSession(cfg))
			return bridge.Run(ctx)
		},
	}

	flags.register(cmd)
	return cmd
}

func newServeCmd() *cobra.Command {
	flags := &brokerFlags{}
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept websocket connections, one session per connection",
		Example: `  agentbroker serve
  agentbroker serve --listen 127.0.0.1:9000 --dir /path/to/project`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			logFile, cleanup := logging.Setup(cfg.Verbose, cfg.LogDir)
			defer cleanup()
			if logFile != "" {
				slog.Info("logging to file", "path", logFile)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:    cfg.Listen,
				Handler: transport.NewServer(func() *broker.Session { return newSession(cfg) }),
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("listening", "addr", cfg.Listen)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default 127.0.0.1:8754)")
	return cmd
}

// newSession builds a session from the merged configuration.
func newSession(cfg *config.Config) *broker.Session {
	opts := []broker.SessionOption{
		broker.WithWorkDir(cfg.WorkDir),
	}
	if cfg.Model != "" {
		opts = append(opts, broker.WithModel(cfg.Model))
	}
	if cfg.CLIPath != "" {
		opts = append(opts, broker.WithCLIPath(cfg.CLIPath))
	}
	if cfg.PluginDir != "" {
		opts = append(opts, broker.WithPluginDir(cfg.PluginDir))
	}
	if cfg.PermissionMode != "" {
		opts = append(opts, broker.WithPermissionMode(broker.PermissionMode(cfg.PermissionMode)))
	}
	if cfg.SessionFile != "" {
		opts = append(opts, broker.WithSessionFile(cfg.SessionFile))
	}
	if len(cfg.Env) > 0 {
		opts = append(opts, broker.WithEnv(cfg.Env))
	}
	return broker.NewSession(opts...)
}
