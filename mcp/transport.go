package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExitEvent is the terminal event of a transport's receive sequence,
// delivered when the child process exits — cleanly or by crash. It is an
// observable event, not a panic: the owning session decides what to do.
type ExitEvent struct {
	// Code is the process exit code, or -1 when the process was killed or
	// never reported one.
	Code int

	// Err is the wait error for abnormal exits, nil for a clean exit.
	Err error
}

// Error implements the error interface so an ExitEvent can be wrapped into
// the transport failure reported to pending calls.
func (e ExitEvent) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process exited (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("process exited (code %d)", e.Code)
}

// Transport frames and delivers JSON-RPC messages to a single child
// process. A transport is single-use: once the process exits, the frame
// sequence ends and the transport cannot be restarted — the owning session
// builds a fresh one to reconnect.
type Transport interface {
	// Start spawns the child process and begins reading frames.
	Start(ctx context.Context) error

	// Send writes one complete JSON-RPC message.
	Send(frame []byte) error

	// Frames returns the inbound message sequence. The channel is closed
	// after the process exits; Exited then yields the terminal event.
	Frames() <-chan json.RawMessage

	// Exited yields the terminal ExitEvent once the process has exited.
	Exited() <-chan ExitEvent

	// Close terminates the child process and releases resources.
	Close() error
}
