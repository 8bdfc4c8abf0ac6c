package mcpagent

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

// toolNamePrefix and toolNameSep build qualified tool names of the form
// mcp__{server}__{tool}, so same-named tools on different servers never
// collide in the manifest.
const (
	toolNamePrefix = "mcp__"
	toolNameSep    = "__"
)

// qualifyToolName returns the manifest-qualified name for a server-local
// tool.
func qualifyToolName(serverID, tool string) string {
	return toolNamePrefix + serverID + toolNameSep + tool
}

// splitToolName resolves a qualified name back to (serverID, tool). ok is
// false for names that do not follow the qualification scheme.
func splitToolName(name string) (serverID, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, toolNamePrefix)
	if !found {
		return "", "", false
	}
	serverID, tool, found = strings.Cut(rest, toolNameSep)
	if !found || serverID == "" || tool == "" {
		return "", "", false
	}
	return serverID, tool, true
}

// buildManifest assembles the tool manifest for a turn from every usable
// session, in session order. Tools on degraded sessions stay listed but are
// flagged unreliable. Allow and deny glob patterns match against qualified
// names; deny wins.
func buildManifest(sessions []mcp.ServerSession, allowed, disabled []string) []provider.ToolSpec {
	var specs []provider.ToolSpec
	for _, sess := range sessions {
		state := sess.State()
		if !state.Usable() {
			continue
		}
		for _, tool := range sess.ListTools() {
			name := qualifyToolName(sess.ID(), tool.Name)
			if !toolPermitted(name, allowed, disabled) {
				continue
			}
			specs = append(specs, provider.ToolSpec{
				Name:        name,
				Server:      sess.ID(),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Unreliable:  state == mcp.StateDegraded,
			})
		}
	}
	return specs
}

// toolPermitted applies the allow/deny glob patterns to a qualified name.
func toolPermitted(name string, allowed, disabled []string) bool {
	for _, pattern := range disabled {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// defaultSystemPrompt summarizes the connected capabilities for the model.
// Used when no explicit system prompt is configured.
func defaultSystemPrompt(manifest []provider.ToolSpec) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant with access to external tools.\n")
	if len(manifest) == 0 {
		b.WriteString("No tools are currently available; answer from your own knowledge.")
		return b.String()
	}
	b.WriteString("Use the available tools when they help answer the user. Available tools:\n")
	for _, spec := range manifest {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	b.WriteString("Call tools with their exact listed names. Report tool failures honestly.")
	return b.String()
}
