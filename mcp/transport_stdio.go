package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// maxFrameBytes bounds a single newline-delimited frame.
	maxFrameBytes = 4 << 20

	// stopGracePeriod is how long Close waits for a clean exit after
	// closing stdin before killing the process.
	stopGracePeriod = 5 * time.Second
)

// StdioTransport spawns the configured command and speaks newline-delimited
// JSON-RPC over its stdin/stdout. stderr is drained to the log; it is not
// part of the protocol.
type StdioTransport struct {
	config ServerConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	closed  bool

	frames chan json.RawMessage
	exited chan ExitEvent
	done   chan struct{}
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a transport for the given config. The process
// is not spawned until Start.
func NewStdioTransport(cfg ServerConfig, logger *slog.Logger) (*StdioTransport, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: stdio transport requires a command", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		frames: make(chan json.RawMessage, 16),
		exited: make(chan ExitEvent, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start implements Transport. It spawns the subprocess and starts the
// reader goroutine that pumps stdout frames until the process exits.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("%w: transport already started", ErrTransportFailure)
	}
	if t.closed {
		return fmt.Errorf("%w: transport closed", ErrTransportFailure)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Dir = t.config.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdin pipe: %w", ErrTransportFailure, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: create stdout pipe: %w", ErrTransportFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("%w: create stderr pipe: %w", ErrTransportFailure, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("%w: spawn %s: %w", ErrTransportFailure, t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	t.logger.Info("server subprocess started",
		"command", t.config.Command,
		"pid", cmd.Process.Pid,
	)

	go t.drainStderr(stderr)
	go t.readLoop(stdout)

	return nil
}

// Send implements Transport. Writes are serialized; the newline delimiter
// terminates the frame.
func (t *StdioTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.closed || t.stdin == nil {
		return fmt.Errorf("%w: transport not running", ErrTransportFailure)
	}
	if _, err := t.stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("%w: write to stdin: %w", ErrTransportFailure, err)
	}
	return nil
}

// Frames implements Transport.
func (t *StdioTransport) Frames() <-chan json.RawMessage { return t.frames }

// Exited implements Transport.
func (t *StdioTransport) Exited() <-chan ExitEvent { return t.exited }

// readLoop pumps stdout lines into the frame channel until EOF, then waits
// on the process and delivers the terminal exit event.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make(json.RawMessage, len(line))
		copy(frame, line)
		t.frames <- frame
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.logger.Debug("stdout read ended", "error", err)
	}

	waitErr := t.cmd.Wait()
	code := -1
	if t.cmd.ProcessState != nil {
		code = t.cmd.ProcessState.ExitCode()
	}

	event := ExitEvent{Code: code}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		event.Err = waitErr
	} else if code != 0 {
		event.Err = waitErr
	}

	t.logger.Info("server subprocess exited", "code", code, "error", event.Err)

	close(t.frames)
	t.exited <- event
	close(t.exited)
	close(t.done)
}

// drainStderr logs subprocess stderr lines at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("server subprocess stderr", "line", scanner.Text())
	}
}

// Close implements Transport. Stdin is closed first to let the server exit
// cleanly; after a grace period the process is killed. The reader goroutine
// observes EOF either way and delivers the exit event.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if !started {
		return nil
	}
	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-t.done:
		return nil
	case <-time.After(stopGracePeriod):
		t.logger.Warn("server subprocess did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-t.done
		return nil
	}
}
