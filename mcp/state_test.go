package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}

func TestConnStateUsable(t *testing.T) {
	assert.True(t, StateReady.Usable())
	assert.True(t, StateDegraded.Usable())
	assert.False(t, StateDisconnected.Usable())
	assert.False(t, StateConnecting.Usable())
	assert.False(t, StateHandshaking.Usable())
	assert.False(t, StateClosed.Usable())
}
