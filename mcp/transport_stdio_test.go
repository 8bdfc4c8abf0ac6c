package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStdioTransportRequiresCommand(t *testing.T) {
	_, err := NewStdioTransport(ServerConfig{}, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStdioTransportEcho(t *testing.T) {
	// cat echoes stdin line by line, which is exactly a frame round trip.
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	frame := []byte(`{"jsonrpc":"2.0","id":"1","method":"ping"}`)
	require.NoError(t, tr.Send(frame))

	select {
	case got := <-tr.Frames():
		assert.JSONEq(t, string(frame), string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestStdioTransportExitEvent(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "true"}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	// Frames closes first, then the exit event is delivered.
	for range tr.Frames() {
	}
	select {
	case event := <-tr.Exited():
		assert.Equal(t, 0, event.Code)
		assert.NoError(t, event.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}
	require.NoError(t, tr.Close())
}

func TestStdioTransportNonZeroExit(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "false"}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	for range tr.Frames() {
	}
	select {
	case event := <-tr.Exited():
		assert.Equal(t, 1, event.Code)
		assert.Error(t, event.Err)
		assert.Contains(t, event.Error(), "code 1")
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}
}

func TestStdioTransportCloseTerminates(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		for range tr.Frames() {
		}
		close(done)
	}()

	require.NoError(t, tr.Close())
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("frames never closed after Close")
	}
}

func TestStdioTransportEnvPassthrough(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{
		Command: "sh",
		Args:    []string{"-c", `printf '{"v":"%s"}\n' "$FRAME_VALUE"`},
		Env:     map[string]string{"FRAME_VALUE": "hello"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	select {
	case got := <-tr.Frames():
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(got, &decoded))
		assert.Equal(t, "hello", decoded["v"])
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestStdioTransportSendBeforeStart(t *testing.T) {
	tr, err := NewStdioTransport(ServerConfig{Command: "cat"}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, tr.Send([]byte(`{}`)), ErrTransportFailure)
}
