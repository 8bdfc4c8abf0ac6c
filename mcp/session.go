package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for session tuning knobs.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultConnectAttempts   = 3
	DefaultConnectBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultCallTimeout       = 60 * time.Second
	DefaultDegradedThreshold = 3

	// orphanLimit caps the remembered set of timed-out correlation ids.
	orphanLimit = 128
)

// clientName and clientVersion are advertised in the initialize handshake.
const (
	clientName    = "mcp-agent-go"
	clientVersion = "1.0.0"
)

// ServerSession is the session surface consumed by the agent: capability
// snapshots plus correlated tool and resource calls. Implemented by
// [Session] (subprocess-backed) and [LocalServer] (in-process).
type ServerSession interface {
	// ID returns the server id.
	ID() string

	// State returns the current connection state.
	State() ConnState

	// ListTools returns the ordered tool snapshot from the last handshake
	// or refresh. Empty until the session is Ready.
	ListTools() []ToolDescriptor

	// ListResources returns the ordered resource snapshot. Same caching
	// contract as ListTools.
	ListResources() []ResourceDescriptor

	// CallTool invokes a tool and waits for the correlated response or the
	// timeout (0 means the session default). Safe for concurrent use.
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*CallResult, error)

	// ReadResource reads a resource's text content by URI.
	ReadResource(ctx context.Context, uri string) (string, error)

	// Close shuts the session down. Outstanding calls fail; the state
	// becomes Closed.
	Close() error
}

// StateFunc observes session state transitions.
type StateFunc func(serverID string, state ConnState)

// TransportFactory builds the transport for each connection attempt.
// Overridable for tests.
type TransportFactory func(cfg ServerConfig, logger *slog.Logger) (Transport, error)

// sessionOptions holds tuning knobs set via SessionOption.
type sessionOptions struct {
	handshakeTimeout  time.Duration
	connectAttempts   int
	connectBackoff    time.Duration
	maxBackoff        time.Duration
	callTimeout       time.Duration
	degradedThreshold int
	onState           StateFunc
	newTransport      TransportFactory
	logger            *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithHandshakeTimeout bounds each capability handshake attempt.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.handshakeTimeout = d }
}

// WithConnectAttempts sets the bounded number of connection attempts before
// Connect fails with ErrServerUnavailable.
func WithConnectAttempts(n int) SessionOption {
	return func(o *sessionOptions) { o.connectAttempts = n }
}

// WithConnectBackoff sets the initial reconnect backoff; it doubles per
// attempt up to an internal cap.
func WithConnectBackoff(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.connectBackoff = d }
}

// WithCallTimeout sets the default per-call timeout used when CallTool is
// given zero.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) { o.callTimeout = d }
}

// WithDegradedThreshold sets how many consecutive tool-call failures move a
// Ready session to Degraded.
func WithDegradedThreshold(n int) SessionOption {
	return func(o *sessionOptions) { o.degradedThreshold = n }
}

// WithStateFunc installs a state transition observer.
func WithStateFunc(fn StateFunc) SessionOption {
	return func(o *sessionOptions) { o.onState = fn }
}

// WithTransportFactory overrides subprocess transport construction,
// primarily for tests.
func WithTransportFactory(fn TransportFactory) SessionOption {
	return func(o *sessionOptions) { o.newTransport = fn }
}

// WithSessionLogger sets the structured logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = logger }
}

func resolveSessionOptions(opts []SessionOption) sessionOptions {
	o := sessionOptions{
		handshakeTimeout:  DefaultHandshakeTimeout,
		connectAttempts:   DefaultConnectAttempts,
		connectBackoff:    DefaultConnectBackoff,
		maxBackoff:        DefaultMaxBackoff,
		callTimeout:       DefaultCallTimeout,
		degradedThreshold: DefaultDegradedThreshold,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.newTransport == nil {
		o.newTransport = func(cfg ServerConfig, logger *slog.Logger) (Transport, error) {
			return NewStdioTransport(cfg, logger)
		}
	}
	return o
}

// callOutcome is delivered on a pending call's channel by the reader.
type callOutcome struct {
	resp *Response
	err  error
}

// Session is a stateful connection to one MCP server. It owns its Transport
// and the outstanding-request table; multiple tool calls may be in flight
// concurrently, demultiplexed by correlation id.
type Session struct {
	id     string
	server ServerConfig
	opts   sessionOptions
	logger *slog.Logger

	mu          sync.Mutex
	state       ConnState
	transport   Transport
	gen         int // transport generation, guards stale reader exits
	pending     map[string]chan callOutcome
	orphans     map[string]struct{}
	orphanOrder []string
	tools       []ToolDescriptor
	resources   []ResourceDescriptor
	consecFails int
	reconnects  bool
	closed      bool
}

var _ ServerSession = (*Session)(nil)

// NewSession creates a session for the given server. The subprocess is not
// spawned until Connect.
func NewSession(id string, cfg ServerConfig, opts ...SessionOption) *Session {
	o := resolveSessionOptions(opts)
	return &Session{
		id:      id,
		server:  cfg,
		opts:    o,
		logger:  o.logger.With("server_id", id),
		state:   StateDisconnected,
		pending: make(map[string]chan callOutcome),
		orphans: make(map[string]struct{}),
	}
}

// ID implements ServerSession.
func (s *Session) ID() string { return s.id }

// State implements ServerSession.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect spawns the server process and performs the capability handshake,
// retrying with exponential backoff up to the configured attempt budget.
// Exhaustion returns ErrServerUnavailable and leaves the session
// Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	backoff := s.opts.connectBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.connectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.opts.maxBackoff {
				backoff = s.opts.maxBackoff
			}
		}

		err := s.connectOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionClosed) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
		s.logger.Warn("connection attempt failed",
			"attempt", attempt,
			"max_attempts", s.opts.connectAttempts,
			"error", err,
		)
	}
	return fmt.Errorf("%w: %s after %d attempts: %w",
		ErrServerUnavailable, s.id, s.opts.connectAttempts, lastErr)
}

// connectOnce runs a single spawn + handshake cycle.
func (s *Session) connectOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.transition(StateConnecting)

	t, err := s.opts.newTransport(s.server, s.logger)
	if err != nil {
		s.transition(StateDisconnected)
		return err
	}
	if err := t.Start(ctx); err != nil {
		s.transition(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	s.transition(StateHandshaking)

	go s.readLoop(t, gen)

	hctx, cancel := context.WithTimeout(ctx, s.opts.handshakeTimeout)
	defer cancel()
	if err := s.handshake(hctx); err != nil {
		_ = t.Close()
		s.transition(StateDisconnected)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCallTimeout) {
			return fmt.Errorf("%w: %s", ErrHandshakeTimeout, s.id)
		}
		return err
	}

	s.mu.Lock()
	s.consecFails = 0
	s.mu.Unlock()
	s.transition(StateReady)
	return nil
}

// initializeResult is the initialize response payload.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// handshake performs initialize + initialized notification + capability
// discovery. The session is not Ready, and the manifests stay empty, until
// every step succeeds.
func (s *Session) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	resp, err := s.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("%w: initialize result: %w", ErrProtocolViolation, err)
	}
	s.logger.Info("server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := s.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return s.discover(ctx)
}

// toolsListResult is the tools/list response payload.
type toolsListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

// resourcesListResult is the resources/list response payload.
type resourcesListResult struct {
	Resources []struct {
		URI         string `json:"uri"`
		Name        string `json:"name"`
		Description string `json:"description"`
		MIMEType    string `json:"mimeType"`
	} `json:"resources"`
}

// discover refreshes the tool and resource snapshots. Servers that do not
// implement a listing method contribute an empty snapshot; malformed
// responses are protocol violations.
func (s *Session) discover(ctx context.Context) error {
	var tools []ToolDescriptor
	resp, err := s.call(ctx, "tools/list", nil)
	switch {
	case err == nil:
		var result toolsListResult
		if uerr := json.Unmarshal(resp.Result, &result); uerr != nil {
			return fmt.Errorf("%w: tools/list result: %w", ErrProtocolViolation, uerr)
		}
		for _, t := range result.Tools {
			tools = append(tools, ToolDescriptor{
				ServerID:    s.id,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	case isMethodNotFound(err):
		s.logger.Debug("server does not support tools/list")
	default:
		return fmt.Errorf("tools/list: %w", err)
	}

	var resources []ResourceDescriptor
	resp, err = s.call(ctx, "resources/list", nil)
	switch {
	case err == nil:
		var result resourcesListResult
		if uerr := json.Unmarshal(resp.Result, &result); uerr != nil {
			return fmt.Errorf("%w: resources/list result: %w", ErrProtocolViolation, uerr)
		}
		for _, r := range result.Resources {
			resources = append(resources, ResourceDescriptor{
				ServerID:    s.id,
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
			})
		}
	case isMethodNotFound(err):
		s.logger.Debug("server does not support resources/list")
	default:
		return fmt.Errorf("resources/list: %w", err)
	}

	s.mu.Lock()
	s.tools = tools
	s.resources = resources
	s.mu.Unlock()

	s.logger.Info("capabilities discovered",
		"tools", len(tools),
		"resources", len(resources),
	)
	return nil
}

// isMethodNotFound reports whether err is a server-side "method not found".
func isMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == methodNotFound
}

// Refresh re-runs capability discovery on a usable session.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.State().Usable() {
		return fmt.Errorf("%w: %s not connected", ErrServerUnavailable, s.id)
	}
	return s.discover(ctx)
}

// ListTools implements ServerSession.
func (s *Session) ListTools() []ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// ListResources implements ServerSession.
func (s *Session) ListResources() []ResourceDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResourceDescriptor, len(s.resources))
	copy(out, s.resources)
	return out
}

// callToolResult is the tools/call response payload.
type callToolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// contentBlock is one content item in a tools/call or resources/read
// response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallTool implements ServerSession. Protocol, transport, and timeout
// failures count toward the degraded threshold; server-reported application
// errors come back as a CallResult with IsError set so the model can react.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*CallResult, error) {
	state := s.State()
	if state == StateClosed {
		return nil, ErrSessionClosed
	}
	if !state.Usable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrServerUnavailable, s.id, state)
	}
	if timeout <= 0 {
		timeout = s.opts.callTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	resp, err := s.call(cctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// Server answered; the protocol is healthy.
			return nil, fmt.Errorf("%w: %s: %w", ErrToolRejected, name, rpcErr)
		}
		s.recordFailure()
		return nil, err
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("%w: tools/call result: %w", ErrProtocolViolation, err)
	}

	s.recordSuccess()
	return &CallResult{
		CorrelationID: resp.ID,
		Content:       flattenContent(result.Content),
		IsError:       result.IsError,
	}, nil
}

// readResourceResult is the resources/read response payload.
type readResourceResult struct {
	Contents []struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType,omitempty"`
		Text     string `json:"text,omitempty"`
	} `json:"contents"`
}

// ReadResource implements ServerSession.
func (s *Session) ReadResource(ctx context.Context, uri string) (string, error) {
	state := s.State()
	if state == StateClosed {
		return "", ErrSessionClosed
	}
	if !state.Usable() {
		return "", fmt.Errorf("%w: %s is %s", ErrServerUnavailable, s.id, state)
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.callTimeout)
	defer cancel()

	resp, err := s.call(cctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s: %w", ErrResourceNotFound, uri, rpcErr)
		}
		return "", err
	}

	var result readResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("%w: resources/read result: %w", ErrProtocolViolation, err)
	}
	if len(result.Contents) == 0 {
		return "", nil
	}
	return result.Contents[0].Text, nil
}

// call issues a correlated request and waits for its response, the context
// deadline, or a transport failure. On timeout the correlation id moves to
// the orphan set so a late response is discarded, never delivered to a
// newer call.
func (s *Session) call(ctx context.Context, method string, params any) (*Response, error) {
	id := uuid.NewString()
	ch := make(chan callOutcome, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	t := s.transport
	if t == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no transport", ErrTransportFailure)
	}
	s.pending[id] = ch
	s.mu.Unlock()

	data, err := json.Marshal(NewRequest(id, method, params))
	if err != nil {
		s.dropPending(id)
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	if err := t.Send(data); err != nil {
		s.dropPending(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		s.orphan(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s correlation %s", ErrCallTimeout, method, id)
		}
		return nil, ctx.Err()
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if out.resp.Error != nil {
			return nil, out.resp.Error
		}
		return out.resp, nil
	}
}

// notify sends a one-way notification.
func (s *Session) notify(method string, params any) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: no transport", ErrTransportFailure)
	}
	data, err := json.Marshal(NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return t.Send(data)
}

// readLoop is the single consumer of a transport's frames; it is the only
// goroutine that resolves pending calls, which serializes all mutation of
// the outstanding-request table together with the session mutex.
func (s *Session) readLoop(t Transport, gen int) {
	for frame := range t.Frames() {
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil || resp.JSONRPC != jsonrpcVersion {
			s.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		if resp.ID == "" {
			// Server-initiated notification; nothing correlates to it.
			s.logger.Debug("ignoring server notification frame")
			continue
		}

		s.mu.Lock()
		if ch, ok := s.pending[resp.ID]; ok {
			delete(s.pending, resp.ID)
			s.mu.Unlock()
			ch <- callOutcome{resp: &resp}
			continue
		}
		_, orphaned := s.orphans[resp.ID]
		s.mu.Unlock()

		if orphaned {
			s.logger.Debug("discarding late response for orphaned call",
				"correlation_id", resp.ID)
		} else {
			s.logger.Warn("discarding response with unknown correlation id",
				"correlation_id", resp.ID)
		}
	}

	event, ok := <-t.Exited()
	if !ok {
		event = ExitEvent{Code: -1}
	}
	s.handleExit(gen, event)
}

// handleExit resolves every outstanding call with a transport failure and,
// unless the session was closed deliberately, moves to Disconnected and
// starts a bounded background reconnect.
func (s *Session) handleExit(gen int, event ExitEvent) {
	s.mu.Lock()
	if gen != s.gen {
		// A newer transport has superseded this one.
		s.mu.Unlock()
		return
	}
	failure := fmt.Errorf("%w: %s", ErrTransportFailure, event.Error())
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- callOutcome{err: failure}
	}
	closed := s.closed
	reconnecting := s.reconnects
	wasUsable := s.state.Usable()
	if !closed {
		s.reconnects = true
	}
	s.mu.Unlock()

	if closed {
		return
	}
	s.transition(StateDisconnected)
	if wasUsable && !reconnecting {
		go func() {
			defer func() {
				s.mu.Lock()
				s.reconnects = false
				s.mu.Unlock()
			}()
			if err := s.Connect(context.Background()); err != nil {
				s.logger.Warn("reconnect failed", "error", err)
			}
		}()
	} else {
		s.mu.Lock()
		s.reconnects = false
		s.mu.Unlock()
	}
}

// orphan moves a pending id to the capped orphan set.
func (s *Session) orphan(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return
	}
	delete(s.pending, id)
	s.orphans[id] = struct{}{}
	s.orphanOrder = append(s.orphanOrder, id)
	for len(s.orphanOrder) > orphanLimit {
		oldest := s.orphanOrder[0]
		s.orphanOrder = s.orphanOrder[1:]
		delete(s.orphans, oldest)
	}
}

// dropPending removes a pending id without orphaning it (the request never
// reached the wire).
func (s *Session) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// recordFailure counts a protocol-level call failure toward the degraded
// threshold.
func (s *Session) recordFailure() {
	s.mu.Lock()
	s.consecFails++
	demote := s.state == StateReady && s.consecFails >= s.opts.degradedThreshold
	s.mu.Unlock()
	if demote {
		s.transition(StateDegraded)
	}
}

// recordSuccess resets the failure streak; a degraded session recovers on
// its next successful call.
func (s *Session) recordSuccess() {
	s.mu.Lock()
	s.consecFails = 0
	promote := s.state == StateDegraded
	s.mu.Unlock()
	if promote {
		s.transition(StateReady)
	}
}

// transition moves to a new state and notifies the observer. No-op when
// already in the target state or closed (Closed is terminal).
func (s *Session) transition(to ConnState) {
	s.mu.Lock()
	if s.state == to || (s.state == StateClosed && to != StateClosed) {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	onState := s.opts.onState
	s.mu.Unlock()

	s.logger.Info("session state changed", "from", from.String(), "to", to.String())
	if onState != nil {
		onState(s.id, to)
	}
}

// Close implements ServerSession. Terminates the subprocess; the reader's
// exit handling resolves any stragglers with a transport failure.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	s.mu.Unlock()

	s.transition(StateClosed)
	if t != nil {
		return t.Close()
	}
	return nil
}

// flattenContent joins text blocks; non-text blocks are represented as
// inline markers.
func flattenContent(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
