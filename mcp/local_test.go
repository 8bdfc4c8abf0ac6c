package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalServerCallTool(t *testing.T) {
	s := NewLocalServer("local", nil)
	require.NoError(t, s.AddTool("greet", "greets a person", map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("hello %v", args["name"]), nil
	}))

	result, err := s.CallTool(context.Background(), "greet", map[string]any{"name": "ada"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", result.Content)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestLocalServerHandlerErrorIsResult(t *testing.T) {
	s := NewLocalServer("local", nil)
	require.NoError(t, s.AddTool("boom", "always fails", nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("kaboom")
		}))

	result, err := s.CallTool(context.Background(), "boom", nil, time.Second)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "kaboom", result.Content)
}

func TestLocalServerUnknownTool(t *testing.T) {
	s := NewLocalServer("local", nil)
	_, err := s.CallTool(context.Background(), "ghost", nil, time.Second)
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestLocalServerDuplicateTool(t *testing.T) {
	s := NewLocalServer("local", nil)
	handler := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	require.NoError(t, s.AddTool("t", "", nil, handler))
	require.Error(t, s.AddTool("t", "", nil, handler))
}

func TestLocalServerCallTimeout(t *testing.T) {
	s := NewLocalServer("local", nil)
	require.NoError(t, s.AddTool("slow", "", nil,
		func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))

	_, err := s.CallTool(context.Background(), "slow", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)
}

func TestAddTypedTool(t *testing.T) {
	type greetArgs struct {
		Name  string `json:"name"`
		Times int    `json:"times,omitempty"`
	}

	s := NewLocalServer("local", nil)
	require.NoError(t, AddTypedTool(s, "greet", "greets a person",
		func(ctx context.Context, args greetArgs) (string, error) {
			return "hello " + args.Name, nil
		}))

	tools := s.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "object", tools[0].InputSchema["type"])
	assert.Contains(t, tools[0].InputSchema, "properties")

	result, err := s.CallTool(context.Background(), "greet", map[string]any{"name": "ada"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello ada", result.Content)
}

func TestLocalServerResources(t *testing.T) {
	s := NewLocalServer("local", nil)
	require.NoError(t, s.AddResource("mem://motd", "motd", "message of the day", "text/plain", "be kind"))

	resources := s.ListResources()
	require.Len(t, resources, 1)
	assert.Equal(t, "mem://motd", resources[0].URI)

	content, err := s.ReadResource(context.Background(), "mem://motd")
	require.NoError(t, err)
	assert.Equal(t, "be kind", content)

	_, err = s.ReadResource(context.Background(), "mem://ghost")
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestLocalServerClose(t *testing.T) {
	s := NewLocalServer("local", nil)
	assert.Equal(t, StateReady, s.State())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	_, err := s.CallTool(context.Background(), "any", nil, time.Second)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestLocalServerToolOrder(t *testing.T) {
	s := NewLocalServer("local", nil)
	handler := func(ctx context.Context, args map[string]any) (string, error) { return "", nil }
	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, s.AddTool(name, "", nil, handler))
	}
	tools := s.ListTools()
	require.Len(t, tools, 3)
	assert.Equal(t, "c", tools[0].Name)
	assert.Equal(t, "a", tools[1].Name)
	assert.Equal(t, "b", tools[2].Name)
}
