package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmcp/goclient/internal/tracker"
	"github.com/kestrelmcp/goclient/jsonrpc"
	"github.com/kestrelmcp/goclient/protocol"
	"github.com/kestrelmcp/goclient/transport"
)

// decodeToMap unmarshals raw JSON bytes into a map[string]any. Every
// Transport.Send call takes a map rather than bytes, so the codec's encoded
// output is round-tripped once through this helper before being handed to
// the wire.
func decodeToMap(raw []byte, out *map[string]any) error {
	return json.Unmarshal(raw, out)
}

// Status is one of the four states of the Connection state machine.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusInitializing
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// NotificationHandler receives server-initiated notifications (method
// without an id), in whatever state the Connection is in when they arrive.
// It is optional; notifications are silently dropped if none is configured.
type NotificationHandler func(method string, params map[string]any)

const (
	// DefaultRequestTimeout is the per-call timeout used when neither a
	// Connection-wide override nor a per-call WithTimeout is supplied.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultInitializeTimeout is longer than DefaultRequestTimeout because
	// subprocess start-up may be slow.
	DefaultInitializeTimeout = 60 * time.Second
)

// Connection is one client-to-server session, driving the handshake,
// correlating requests through its Tracker, and auto-answering the small
// set of server-initiated requests the client supports.
type Connection struct {
	id        string
	transport transport.Transport
	tracker   *tracker.Tracker
	logger    *log.Logger
	journal   requestJournal

	clientName          string
	clientVersion       string
	clientCapabilities  map[string]any
	defaultTimeout      time.Duration
	initializeTimeout   time.Duration
	notificationHandler NotificationHandler

	mu                 sync.RWMutex
	status             Status
	serverInfo         ServerInfo
	serverCapabilities map[string]any
	protocolVersion    string

	readyOnce sync.Once
	readyCh   chan struct{}
	readyErr  error
}

// requestJournal is the optional persistence hook a Connection calls after
// every request terminates. It is an interface here, rather than a direct
// dependency on package journal, so connection.go has no import-time
// dependency on database/sql.
type requestJournal interface {
	Record(connID, method string, startedAt time.Time, elapsed time.Duration, err error)
}

// Option configures a Connection at Dial time.
type Option func(*Connection)

// WithClientInfo overrides the name/version advertised in the handshake.
// Defaults to "mcpclient"/"0.1.0".
func WithClientInfo(name, version string) Option {
	return func(c *Connection) {
		c.clientName = name
		c.clientVersion = version
	}
}

// WithClientCapabilities overrides the capability map advertised in the
// handshake. Defaults to DefaultClientCapabilities().
func WithClientCapabilities(caps map[string]any) Option {
	return func(c *Connection) { c.clientCapabilities = caps }
}

// WithRequestTimeout overrides the default per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Connection) { c.defaultTimeout = d }
}

// WithInitializeTimeout overrides the handshake's own timeout.
func WithInitializeTimeout(d time.Duration) Option {
	return func(c *Connection) { c.initializeTimeout = d }
}

// WithNotificationHandler installs a callback for inbound server
// notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *Connection) { c.notificationHandler = h }
}

// WithConnectionLogger overrides the diagnostics logger.
func WithConnectionLogger(l *log.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithRequestJournal attaches an optional persistence sink invoked after
// every request terminates.
func WithRequestJournal(j requestJournal) Option {
	return func(c *Connection) { c.journal = j }
}

// Dial starts tr, drives it through the MCP handshake, and returns a ready
// Connection. It blocks until the Connection reaches StatusReady or the
// handshake fails, or ctx is cancelled first.
func Dial(ctx context.Context, tr transport.Transport, opts ...Option) (*Connection, error) {
	id := uuid.NewString()
	c := &Connection{
		id:                 id,
		transport:          tr,
		tracker:            tracker.New(),
		logger:             log.New(os.Stderr, fmt.Sprintf("mcpclient[%s]: ", id[:8]), log.LstdFlags),
		clientName:         "mcpclient",
		clientVersion:      "0.1.0",
		clientCapabilities: DefaultClientCapabilities(),
		defaultTimeout:     DefaultRequestTimeout,
		initializeTimeout:  DefaultInitializeTimeout,
		status:             StatusDisconnected,
		readyCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.setStatus(StatusConnecting)
	if err := tr.Start(ctx, c); err != nil {
		c.setStatus(StatusDisconnected)
		return nil, fmt.Errorf("mcpclient: start transport: %w", err)
	}

	select {
	case <-c.readyCh:
		if c.readyErr != nil {
			return nil, c.readyErr
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// ID is a random identifier assigned at Dial time, used to correlate log
// lines and journal records back to this Connection across a Pool of many.
func (c *Connection) ID() string {
	return c.id
}

// Status reports the Connection's current state.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ServerInfo returns the server's identity as recorded at handshake
// completion. It is the zero value before the Connection reaches ready.
func (c *Connection) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the server's capability map as recorded at
// handshake completion.
func (c *Connection) ServerCapabilities() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities
}

// SupportsFeature reports whether the server advertised the named top-level
// capability at all (e.g. "tools", "resources", "prompts") during the
// handshake.
func (c *Connection) SupportsFeature(feature string) bool {
	return hasFeature(c.ServerCapabilities(), feature)
}

// SupportsListChanged reports whether the server's capability entry for
// feature advertises listChanged: true, meaning it will send a
// notifications/<feature>/list_changed notification when its list of
// entries changes.
func (c *Connection) SupportsListChanged(feature string) bool {
	return featureSupportsListChanged(c.ServerCapabilities(), feature)
}

// SupportsSubscribe reports whether the server's "resources" capability
// entry advertises subscribe: true, meaning resources/subscribe and
// resources/unsubscribe are usable against this server.
func (c *Connection) SupportsSubscribe() bool {
	return featureSupportsSubscribe(c.ServerCapabilities(), "resources")
}

// ProtocolVersion returns the negotiated protocol-version string.
func (c *Connection) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

// Stats returns the Connection's Tracker statistics, for callers wanting
// observability.
func (c *Connection) Stats() tracker.Stats {
	return c.tracker.Stats()
}

// Pending reports the number of currently outstanding requests, used by the
// Pool's least-busy strategy.
func (c *Connection) Pending() int {
	return c.tracker.Pending()
}

// RequestOption configures a single call to Request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the Connection's default timeout for one call.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

// Request sends method/params, blocks until the matching response arrives
// (or the request times out, is cancelled, or the connection closes), and
// returns the server's result verbatim.
func (c *Connection) Request(ctx context.Context, method string, params map[string]any, opts ...RequestOption) (map[string]any, error) {
	if status := c.Status(); status != StatusReady {
		return nil, errNotReady(status)
	}

	rc := requestConfig{timeout: c.defaultTimeout}
	for _, opt := range opts {
		opt(&rc)
	}

	id := c.tracker.NextID()
	waiter := tracker.NewWaiter()
	c.tracker.Track(id, method, waiter, rc.timeout)
	started := time.Now()

	raw, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		c.tracker.Cancel(id)
		return nil, NewError(CodeInternalError, "encode request: %v", err)
	}

	var frame map[string]any
	if err := decodeToMap(raw, &frame); err != nil {
		c.tracker.Cancel(id)
		return nil, NewError(CodeInternalError, "re-decode request: %v", err)
	}

	if err := c.transport.Send(ctx, frame); err != nil {
		c.tracker.Cancel(id)
		return nil, NewError(CodeConnectionClosed, "send: %v", err)
	}

	outcome, ok := waiter.Recv(ctx.Done())
	if !ok {
		c.recordJournal(method, started, ctx.Err())
		return nil, ctx.Err()
	}

	var outErr error
	if outcome.Err != nil {
		outErr = translateWaiterError(outcome.Err)
	}
	c.recordJournal(method, started, outErr)
	return outcome.Result, outErr
}

func (c *Connection) recordJournal(method string, started time.Time, err error) {
	if c.journal == nil {
		return
	}
	c.journal.Record(c.id, method, started, time.Since(started), err)
}

func translateWaiterError(err error) error {
	if errors.Is(err, tracker.ErrTimeout) {
		return NewError(CodeRequestTimeout, "request timed out")
	}
	if errors.Is(err, tracker.ErrCancelled) {
		return NewError(CodeRequestCancelled, "request cancelled")
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return NewError(CodeConnectionClosed, "%v", err)
}

// Notify sends a one-way notification; it returns once the transport has
// accepted local delivery, with no correlation or reply.
func (c *Connection) Notify(ctx context.Context, method string, params map[string]any) error {
	if status := c.Status(); status != StatusReady {
		return errNotReady(status)
	}

	raw, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return NewError(CodeInternalError, "encode notification: %v", err)
	}
	var frame map[string]any
	if err := decodeToMap(raw, &frame); err != nil {
		return NewError(CodeInternalError, "re-decode notification: %v", err)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		return NewError(CodeConnectionClosed, "send: %v", err)
	}
	return nil
}

// Cancel cancels an outstanding request by ID, delivering a cancellation
// error to its waiter, and sends a best-effort notifications/cancelled
// heads-up to the server (not waiting for acknowledgement).
func (c *Connection) Cancel(ctx context.Context, id int64, reason string) {
	if _, ok := c.tracker.Cancel(id); !ok {
		return
	}
	method, params := protocol.NotificationsCancelled(id, reason)
	raw, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return
	}
	var frame map[string]any
	if err := decodeToMap(raw, &frame); err != nil {
		return
	}
	_ = c.transport.Send(ctx, frame)
}

// Disconnect tears down the transport and bulk-fails every outstanding
// request. It is idempotent.
func (c *Connection) Disconnect() error {
	c.setStatus(StatusDisconnected)
	c.tracker.FailAll(NewError(CodeConnectionClosed, "connection closed"))
	return c.transport.Close()
}

// --- transport.Owner implementation ---

// OnReady transitions connecting → initializing and kicks off the
// handshake on its own goroutine, so the transport's single reader loop
// (true of Stdio) stays free to deliver the initialize response that
// unblocks it.
func (c *Connection) OnReady() {
	c.setStatus(StatusInitializing)
	go c.handshake()
}

func (c *Connection) handshake() {
	id := c.tracker.NextID()
	waiter := tracker.NewWaiter()
	// No caller is waiting on this request; its completion drives a state
	// transition rather than replying to anyone.
	c.tracker.Track(id, "initialize", waiter, c.initializeTimeout)

	method, params := protocol.Initialize(LatestProtocolVersion, c.clientCapabilities, c.clientName, c.clientVersion)
	raw, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		c.failHandshake(fmt.Errorf("mcpclient: encode initialize: %w", err))
		return
	}
	var frame map[string]any
	if err := decodeToMap(raw, &frame); err != nil {
		c.failHandshake(fmt.Errorf("mcpclient: re-decode initialize: %w", err))
		return
	}
	if err := c.transport.Send(context.Background(), frame); err != nil {
		c.failHandshake(fmt.Errorf("mcpclient: send initialize: %w", err))
		return
	}

	outcome, ok := waiter.Recv(nil)
	if !ok {
		return
	}
	if outcome.Err != nil {
		c.failHandshake(outcome.Err)
		return
	}

	info, caps, version, err := extractHandshake(outcome.Result)
	if err != nil {
		c.failHandshake(err)
		return
	}

	c.mu.Lock()
	c.serverInfo = info
	c.serverCapabilities = caps
	c.protocolVersion = version
	c.status = StatusReady
	c.mu.Unlock()

	initMethod, initParams := protocol.NotificationsInitialized()
	initRaw, err := jsonrpc.EncodeNotification(initMethod, initParams)
	if err == nil {
		var initFrame map[string]any
		if decodeErr := decodeToMap(initRaw, &initFrame); decodeErr == nil {
			_ = c.transport.Send(context.Background(), initFrame)
		}
	}

	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Connection) failHandshake(err error) {
	c.setStatus(StatusDisconnected)
	c.readyErr = fmt.Errorf("mcpclient: handshake failed: %w", err)
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// OnMessage classifies an inbound frame and routes it: responses/errors go
// to the Tracker, server-initiated requests are auto-answered, and
// notifications go to the configured handler, if any.
func (c *Connection) OnMessage(frame map[string]any) {
	kind, msg, err := jsonrpc.DecodeFrame(frame)
	if err != nil {
		c.logger.Printf("discarding unparseable frame: %v", err)
		return
	}

	switch kind {
	case jsonrpc.KindResponse:
		resp := msg.(*jsonrpc.Response)
		id, ok := jsonrpc.DecodeID(resp.ID)
		if !ok {
			return
		}
		var result map[string]any
		if len(resp.Result) > 0 {
			if err := decodeToMap(resp.Result, &result); err != nil {
				c.tracker.Fail(id, NewError(CodeParseError, "decode result: %v", err))
				return
			}
		}
		c.tracker.Complete(id, result)

	case jsonrpc.KindErrorResponse:
		errResp := msg.(*jsonrpc.ErrorResponse)
		id, ok := jsonrpc.DecodeID(errResp.ID)
		if !ok {
			return
		}
		c.tracker.Fail(id, &Error{
			Code:    errResp.Error.Code,
			Message: errResp.Error.Message,
			Data:    errResp.Error.Data,
		})

	case jsonrpc.KindRequest:
		c.answerServerRequest(msg.(*jsonrpc.Request))

	case jsonrpc.KindNotification:
		if c.notificationHandler != nil {
			note := msg.(*jsonrpc.Notification)
			c.notificationHandler(note.Method, note.Params)
		}

	default:
		c.logger.Printf("discarding frame of unrecognized shape")
	}
}

// answerServerRequest implements the one server-initiated-request contract
// the client supports: ping and roots/list get real answers; everything
// else, including sampling/createMessage, gets method-not-found, since
// sampling is out of scope here.
func (c *Connection) answerServerRequest(req *jsonrpc.Request) {
	var raw []byte
	var err error

	switch req.Method {
	case "ping":
		raw, err = jsonrpc.EncodeResponse(req.ID, map[string]any{})
	case "roots/list":
		raw, err = jsonrpc.EncodeResponse(req.ID, map[string]any{"roots": []any{}})
	default:
		raw, err = jsonrpc.EncodeError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
	if err != nil {
		c.logger.Printf("failed to encode answer to %s: %v", req.Method, err)
		return
	}

	var frame map[string]any
	if decodeErr := decodeToMap(raw, &frame); decodeErr != nil {
		c.logger.Printf("failed to re-decode answer to %s: %v", req.Method, decodeErr)
		return
	}
	if sendErr := c.transport.Send(context.Background(), frame); sendErr != nil {
		c.logger.Printf("failed to send answer to %s: %v", req.Method, sendErr)
	}
}

// OnError logs a non-fatal transport issue. It does not by itself change
// Connection status; a fatal issue always also produces OnClosed.
func (c *Connection) OnError(err error) {
	c.logger.Printf("transport error: %v", err)
}

// OnClosed bulk-fails every outstanding request with connection-closed and
// transitions to disconnected. If this fires before the handshake
// completed, Dial's wait is also released with an error.
func (c *Connection) OnClosed(reason string) {
	c.setStatus(StatusDisconnected)
	n := c.tracker.FailAll(NewError(CodeConnectionClosed, "transport closed: %s", reason))
	if n > 0 {
		c.logger.Printf("failed %d outstanding request(s) on close: %s", n, reason)
	}
	c.readyOnce.Do(func() {
		c.readyErr = fmt.Errorf("mcpclient: transport closed before handshake completed: %s", reason)
		close(c.readyCh)
	})
}
