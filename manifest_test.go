package mcpagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/mcp-agent-go/mcp"
)

// stubSession is a ServerSession with a fixed state and tool list.
type stubSession struct {
	id    string
	state mcp.ConnState
	tools []mcp.ToolDescriptor
}

func (s *stubSession) ID() string                              { return s.id }
func (s *stubSession) State() mcp.ConnState                    { return s.state }
func (s *stubSession) ListTools() []mcp.ToolDescriptor         { return s.tools }
func (s *stubSession) ListResources() []mcp.ResourceDescriptor { return nil }
func (s *stubSession) Close() error                            { return nil }

func (s *stubSession) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*mcp.CallResult, error) {
	return &mcp.CallResult{Content: "stub"}, nil
}

func (s *stubSession) ReadResource(ctx context.Context, uri string) (string, error) {
	return "", nil
}

func TestQualifyAndSplitToolName(t *testing.T) {
	name := qualifyToolName("filesystem", "list_files")
	assert.Equal(t, "mcp__filesystem__list_files", name)

	serverID, tool, ok := splitToolName(name)
	require.True(t, ok)
	assert.Equal(t, "filesystem", serverID)
	assert.Equal(t, "list_files", tool)

	// Server-local names may contain the separator themselves.
	_, tool, ok = splitToolName("mcp__fs__read__fast")
	require.True(t, ok)
	assert.Equal(t, "read__fast", tool)

	for _, bad := range []string{"", "list_files", "mcp__", "mcp__fs", "mcp____x", "mcp__fs__"} {
		_, _, ok := splitToolName(bad)
		assert.False(t, ok, "expected %q to be rejected", bad)
	}
}

func TestBuildManifest(t *testing.T) {
	sessions := []mcp.ServerSession{
		&stubSession{id: "fs", state: mcp.StateReady, tools: []mcp.ToolDescriptor{
			{ServerID: "fs", Name: "list_files", Description: "lists files"},
			{ServerID: "fs", Name: "read_file", Description: "reads a file"},
		}},
		&stubSession{id: "search", state: mcp.StateDegraded, tools: []mcp.ToolDescriptor{
			{ServerID: "search", Name: "query", Description: "web search"},
		}},
		&stubSession{id: "down", state: mcp.StateDisconnected, tools: []mcp.ToolDescriptor{
			{ServerID: "down", Name: "never", Description: "unreachable"},
		}},
	}

	specs := buildManifest(sessions, nil, nil)
	require.Len(t, specs, 3)
	assert.Equal(t, "mcp__fs__list_files", specs[0].Name)
	assert.Equal(t, "mcp__fs__read_file", specs[1].Name)
	assert.Equal(t, "mcp__search__query", specs[2].Name)
	assert.False(t, specs[0].Unreliable)
	assert.True(t, specs[2].Unreliable)
}

func TestBuildManifestGlobFilters(t *testing.T) {
	sessions := []mcp.ServerSession{
		&stubSession{id: "fs", state: mcp.StateReady, tools: []mcp.ToolDescriptor{
			{Name: "list_files"}, {Name: "delete_file"},
		}},
		&stubSession{id: "search", state: mcp.StateReady, tools: []mcp.ToolDescriptor{
			{Name: "query"},
		}},
	}

	allowedOnly := buildManifest(sessions, []string{"mcp__fs__*"}, nil)
	require.Len(t, allowedOnly, 2)
	assert.Equal(t, "mcp__fs__list_files", allowedOnly[0].Name)

	denied := buildManifest(sessions, nil, []string{"mcp__*__delete_*"})
	require.Len(t, denied, 2)
	for _, spec := range denied {
		assert.NotContains(t, spec.Name, "delete")
	}

	// Deny wins over allow.
	both := buildManifest(sessions, []string{"mcp__fs__*"}, []string{"mcp__fs__delete_file"})
	require.Len(t, both, 1)
	assert.Equal(t, "mcp__fs__list_files", both[0].Name)
}

func TestDefaultSystemPrompt(t *testing.T) {
	empty := defaultSystemPrompt(nil)
	assert.Contains(t, empty, "No tools")

	withTools := defaultSystemPrompt(buildManifest([]mcp.ServerSession{
		&stubSession{id: "fs", state: mcp.StateReady, tools: []mcp.ToolDescriptor{
			{Name: "list_files", Description: "lists files"},
		}},
	}, nil, nil))
	assert.Contains(t, withTools, "mcp__fs__list_files")
	assert.Contains(t, withTools, "lists files")
}
