// Package mcpagent provides an agent orchestration core for the Model
// Context Protocol (MCP). It connects pluggable LLM providers to external
// tool servers spoken to over JSON-RPC 2.0 on the servers' standard streams.
//
// The package exposes one main entry point:
//
//   - [Agent] owns the conversation, the set of server sessions, and the
//     active provider, and drives the turn-by-turn loop.
//
// # Quick Start
//
//	mgr, err := mcp.NewManager(map[string]mcp.ServerConfig{
//	    "filesystem": {Command: "mcp-server-fs", Args: []string{"--path", "."}},
//	})
//	a := mcpagent.NewAgent(provider.NewAnthropic(""), mgr)
//	if err := a.Connect(ctx); err != nil { ... }
//	stream := a.SendMessage(ctx, "list the files here")
//	for stream.Next() {
//	    switch e := stream.Current().(type) {
//	    case *mcpagent.AssistantMessageAppendedEvent:
//	        fmt.Println(e.Text)
//	    }
//	}
//
// # Sub-packages
//
//   - [mcp] provides the transport, server session, and connection manager.
//   - [provider] provides LLM provider implementations (Anthropic, OpenAI,
//     and a function adapter for custom backends).
//   - [config] loads the YAML configuration file.
package mcpagent
