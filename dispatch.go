package mcpagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/armatrix/mcp-agent-go/internal/engine"
	"github.com/armatrix/mcp-agent-go/mcp"
	"github.com/armatrix/mcp-agent-go/provider"
)

// dispatcher routes a turn's tool calls to their owning sessions. It holds
// the manifest snapshot taken at the start of the turn, so a tool that
// disappears mid-turn is still dispatchable and one that was never listed
// is rejected.
type dispatcher struct {
	manager  *mcp.Manager
	timeout  time.Duration
	logger   *slog.Logger
	manifest map[string]provider.ToolSpec
}

var _ engine.Dispatcher = (*dispatcher)(nil)

func newDispatcher(manager *mcp.Manager, specs []provider.ToolSpec, timeout time.Duration, logger *slog.Logger) *dispatcher {
	manifest := make(map[string]provider.ToolSpec, len(specs))
	for _, spec := range specs {
		manifest[spec.Name] = spec
	}
	return &dispatcher{
		manager:  manager,
		timeout:  timeout,
		logger:   logger,
		manifest: manifest,
	}
}

// Dispatch implements engine.Dispatcher. Failures come back as outcomes,
// not panics: the loop folds them into error results the model can see.
// Only context cancellation marks a call as abandoned.
func (d *dispatcher) Dispatch(ctx context.Context, call provider.ToolCall) engine.Outcome {
	spec, listed := d.manifest[call.Name]
	if !listed {
		return engine.Outcome{
			Err: fmt.Errorf("%w: %q is not in the tool manifest", ErrUnknownTool, call.Name),
		}
	}
	_, tool, ok := splitToolName(call.Name)
	if !ok {
		return engine.Outcome{
			Err: fmt.Errorf("%w: malformed tool name %q", ErrUnknownTool, call.Name),
		}
	}

	sess, err := d.manager.Session(spec.Server)
	if err != nil {
		return engine.Outcome{Server: spec.Server, Err: err}
	}

	started := time.Now()
	result, err := sess.CallTool(ctx, tool, call.Arguments, d.timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return engine.Outcome{Server: spec.Server, Err: err}
		}
		d.logger.Warn("tool call failed",
			"server_id", spec.Server,
			"tool", tool,
			"duration", time.Since(started),
			"error", err,
		)
		return engine.Outcome{Server: spec.Server, Err: err}
	}

	d.logger.Debug("tool call completed",
		"server_id", spec.Server,
		"tool", tool,
		"duration", time.Since(started),
		"is_error", result.IsError,
	)
	return engine.Outcome{
		Server:  spec.Server,
		Content: result.Content,
		IsError: result.IsError,
	}
}
