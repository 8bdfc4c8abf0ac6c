package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armatrix/mcp-agent-go/internal/schema"
)

// ToolHandler executes a locally registered tool. A returned error is
// reported to the model as a failed result; it does not abort the turn.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

type localTool struct {
	desc    ToolDescriptor
	handler ToolHandler
}

type localResource struct {
	desc    ResourceDescriptor
	content string
}

// LocalServer exposes in-process tools and static resources through the
// same ServerSession surface as subprocess servers. No transport, no
// handshake; the server is Ready from construction until Close.
type LocalServer struct {
	id     string
	logger *slog.Logger

	mu            sync.Mutex
	tools         map[string]localTool
	toolOrder     []string
	resources     map[string]localResource
	resourceOrder []string
	closed        bool
}

var _ ServerSession = (*LocalServer)(nil)

// NewLocalServer creates an empty local server with the given id.
func NewLocalServer(id string, logger *slog.Logger) *LocalServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalServer{
		id:        id,
		logger:    logger.With("server_id", id),
		tools:     make(map[string]localTool),
		resources: make(map[string]localResource),
	}
}

// ID implements ServerSession.
func (s *LocalServer) ID() string { return s.id }

// State implements ServerSession.
func (s *LocalServer) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StateClosed
	}
	return StateReady
}

// AddTool registers a tool with an explicit JSON Schema for its arguments.
// Fails on duplicate names.
func (s *LocalServer) AddTool(name, description string, inputSchema map[string]any, handler ToolHandler) error {
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler must not be nil", name)
	}
	if inputSchema == nil {
		inputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	s.tools[name] = localTool{
		desc: ToolDescriptor{
			ServerID:    s.id,
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		handler: handler,
	}
	s.toolOrder = append(s.toolOrder, name)
	return nil
}

// AddTypedTool registers a tool whose argument schema is derived from the
// fields of T via reflection, and whose handler receives decoded arguments.
func AddTypedTool[T any](s *LocalServer, name, description string, handler func(ctx context.Context, args T) (string, error)) error {
	inputSchema, err := schema.For[T]()
	if err != nil {
		return fmt.Errorf("tool %q: derive schema: %w", name, err)
	}
	return s.AddTool(name, description, inputSchema, func(ctx context.Context, raw map[string]any) (string, error) {
		data, err := json.Marshal(raw)
		if err != nil {
			return "", fmt.Errorf("encode arguments: %w", err)
		}
		var args T
		if err := json.Unmarshal(data, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
		return handler(ctx, args)
	})
}

// AddResource registers a static text resource. Fails on duplicate URIs.
func (s *LocalServer) AddResource(uri, name, description, mimeType, content string) error {
	if uri == "" {
		return fmt.Errorf("resource uri must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[uri]; exists {
		return fmt.Errorf("resource %q already registered", uri)
	}
	s.resources[uri] = localResource{
		desc: ResourceDescriptor{
			ServerID:    s.id,
			URI:         uri,
			Name:        name,
			Description: description,
			MIMEType:    mimeType,
		},
		content: content,
	}
	s.resourceOrder = append(s.resourceOrder, uri)
	return nil
}

// ListTools implements ServerSession. Order is registration order.
func (s *LocalServer) ListTools() []ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDescriptor, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		out = append(out, s.tools[name].desc)
	}
	return out
}

// ListResources implements ServerSession. Order is registration order.
func (s *LocalServer) ListResources() []ResourceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResourceDescriptor, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		out = append(out, s.resources[uri].desc)
	}
	return out
}

// CallTool implements ServerSession. Handler errors become error-flagged
// results, matching how subprocess servers report application failures.
func (s *LocalServer) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*CallResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	tool, ok := s.tools[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", ErrToolNotFound, name, s.id)
	}

	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.NewString()
	if args == nil {
		args = map[string]any{}
	}

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		content, err := tool.handler(cctx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case <-cctx.Done():
		if cctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s correlation %s", ErrCallTimeout, name, id)
		}
		return nil, cctx.Err()
	case out := <-done:
		if out.err != nil {
			s.logger.Debug("local tool returned error", "tool", name, "error", out.err)
			return &CallResult{
				CorrelationID: id,
				Content:       out.err.Error(),
				IsError:       true,
			}, nil
		}
		return &CallResult{
			CorrelationID: id,
			Content:       out.content,
		}, nil
	}
}

// ReadResource implements ServerSession.
func (s *LocalServer) ReadResource(ctx context.Context, uri string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	res, ok := s.resources[uri]
	if !ok {
		return "", fmt.Errorf("%w: %q on %s", ErrResourceNotFound, uri, s.id)
	}
	return res.content, nil
}

// Close implements ServerSession.
func (s *LocalServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
