package broker

// PermissionMode controls how the agent CLI gates tool execution.
type PermissionMode string

const (
	// PermissionModeDefault prompts for each dangerous operation.
	PermissionModeDefault PermissionMode = "default"
	// PermissionModeAcceptEdits auto-approves file modifications.
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	// PermissionModePlan reviews a plan before execution.
	PermissionModePlan PermissionMode = "plan"
	// PermissionModeBypass auto-approves all tools (use with caution).
	PermissionModeBypass PermissionMode = "bypassPermissions"
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	// Env holds extra environment variables for the agent process.
	Env map[string]string

	// Model to spawn with (CLI default when empty).
	Model string

	// WorkDir is the agent's working directory.
	WorkDir string

	// CLIPath is the path to the agent CLI binary ("claude" in PATH if empty).
	CLIPath string

	// PluginDir is an extra plugin/extension directory passed to the CLI.
	PluginDir string

	// SessionFile is the path of the persisted session-identifier file
	// (default: .agentbroker-session under WorkDir).
	SessionFile string

	// PermissionMode controls tool execution approval.
	PermissionMode PermissionMode

	// OutboundBufferSize is the outbound channel buffer size (default: 256).
	OutboundBufferSize int

	// StderrTail is how many recent stderr lines to retain for error
	// context (default: 20).
	StderrTail int
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*SessionConfig)

// WithModel sets the model to spawn with.
func WithModel(model string) SessionOption {
	return func(c *SessionConfig) {
		c.Model = model
	}
}

// WithWorkDir sets the agent's working directory.
func WithWorkDir(dir string) SessionOption {
	return func(c *SessionConfig) {
		c.WorkDir = dir
	}
}

// WithCLIPath sets a custom agent CLI binary path.
func WithCLIPath(path string) SessionOption {
	return func(c *SessionConfig) {
		c.CLIPath = path
	}
}

// WithPluginDir sets an extra plugin directory for the CLI.
func WithPluginDir(dir string) SessionOption {
	return func(c *SessionConfig) {
		c.PluginDir = dir
	}
}

// WithSessionFile sets the persisted session-identifier file path.
func WithSessionFile(path string) SessionOption {
	return func(c *SessionConfig) {
		c.SessionFile = path
	}
}

// WithPermissionMode sets the permission mode.
func WithPermissionMode(mode PermissionMode) SessionOption {
	return func(c *SessionConfig) {
		c.PermissionMode = mode
	}
}

// WithEnv adds environment variables for the agent process.
func WithEnv(env map[string]string) SessionOption {
	return func(c *SessionConfig) {
		if c.Env == nil {
			c.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			c.Env[k] = v
		}
	}
}

// WithOutboundBufferSize sets the outbound channel buffer size.
func WithOutboundBufferSize(size int) SessionOption {
	return func(c *SessionConfig) {
		c.OutboundBufferSize = size
	}
}

// defaultConfig returns the default configuration.
func defaultConfig() SessionConfig {
	return SessionConfig{
		PermissionMode:     PermissionModeDefault,
		OutboundBufferSize: 256,
		StderrTail:         20,
	}
}
