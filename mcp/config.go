package mcp

// ServerConfig describes how to spawn a single MCP server subprocess.
type ServerConfig struct {
	// Command is the executable to spawn.
	Command string

	// Args are command-line arguments for the subprocess.
	Args []string

	// WorkingDirectory is the subprocess working directory. Empty means
	// inherit the agent's.
	WorkingDirectory string

	// Env are extra environment variables for the subprocess, appended to
	// the current process environment.
	Env map[string]string
}

// validate checks that the config can spawn a process.
func (c ServerConfig) validate() error {
	if c.Command == "" {
		return ErrInvalidConfig
	}
	return nil
}
