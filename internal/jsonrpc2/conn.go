// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc2 implements the bidirectional dispatcher described in
// spec §4.2: correlation of outgoing requests to their responses, routing
// of incoming requests/notifications/responses, progress and cancellation
// plumbing, and batch (de)multiplexing. It knows nothing about MCP method
// names; mcp.Session registers handlers and issues calls through it.
package jsonrpc2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// Connection is the minimal framed-message transport a Conn drives. Any
// type satisfying this method set — stdio, websocket, streaming HTTP — can
// back a Conn; see spec §4.3.
type Connection interface {
	Read(ctx context.Context) (jsonrpc.Message, error)
	Write(ctx context.Context, msg jsonrpc.Message) error
	Close() error
}

// DefaultRequestTimeout is the deadline applied to outgoing calls that don't
// specify one, per spec §4.2 "Timeouts".
const DefaultRequestTimeout = 30 * time.Second

// RequestHandler handles an incoming request and returns its result (or an
// error, which is translated to a JSON-RPC error object).
type RequestHandler func(ctx context.Context, conn *Conn, req *IncomingRequest) (any, error)

// NotificationHandler handles an incoming notification. It produces no
// response; per spec, it should not block the read loop for long.
type NotificationHandler func(ctx context.Context, conn *Conn, method string, params json.RawMessage)

// IncomingRequest is the request information passed to a RequestHandler.
type IncomingRequest struct {
	ID            jsonrpc.ID
	Method        string
	Params        json.RawMessage
	ProgressToken any // from params._meta.progressToken, if present

	conn *Conn
}

// Progress emits a notifications/progress message correlated to this
// request's progress token, if the sender supplied one. Returns
// ErrNoProgressToken if it did not.
func (r *IncomingRequest) Progress(ctx context.Context, message string, progress, total float64) error {
	if r.ProgressToken == nil {
		return ErrNoProgressToken
	}
	params := progressParams{
		ProgressToken: r.ProgressToken,
		Progress:      progress,
		Total:         total,
		Message:       message,
	}
	return r.conn.Notify(ctx, "notifications/progress", params)
}

// ErrNoProgressToken is returned by IncomingRequest.Progress when the
// triggering request carried no progress token.
var ErrNoProgressToken = errors.New("jsonrpc2: no progress token on this request")

// Cancelled reports whether this request's context has been cancelled by a
// peer notifications/cancelled message (cooperative cancellation, spec §4.2).
func (r *IncomingRequest) Cancelled() <-chan struct{} {
	return r.conn.cancelSignal(r.ID)
}

type progressParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

type cancelledParams struct {
	RequestID jsonrpc.ID `json:"requestId"`
	Reason    string     `json:"reason,omitempty"`
}

// Logger is the ambient diagnostic sink a Conn reports soft failures to
// (unmatched progress, dropped notifications, write errors on shutdown).
// A nil Logger silences these.
type Logger interface {
	Warn(msg string, args ...any)
}

// Options configures a new Conn.
type Options struct {
	// Handlers routes incoming method calls. Nil means
	// "no handlers registered"; unmatched requests get -32601, unmatched
	// notifications are dropped per JSON-RPC semantics.
	Handlers *HandlerMap
	Logger   Logger
}

// HandlerMap is a simple static method-name routing table; mcp.Session
// builds one per local role (client-side vs. server-side handlers) and
// passes it to NewConn as Options.Handlers.
type HandlerMap struct {
	mu            sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
}

func NewHandlerMap() *HandlerMap {
	return &HandlerMap{
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
	}
}

func (h *HandlerMap) HandleRequest(method string, fn RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests[method] = fn
}

func (h *HandlerMap) HandleNotification(method string, fn NotificationHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications[method] = fn
}

func (h *HandlerMap) request(method string) (RequestHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.requests[method]
	return fn, ok
}

func (h *HandlerMap) notification(method string) (NotificationHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.notifications[method]
	return fn, ok
}

// Conn is one end of a bidirectional JSON-RPC session: it owns the
// correlation table for outgoing calls and dispatches incoming frames to
// registered handlers. Both peers in an MCP session run a Conn; what
// differs between a client and a server is only which handlers are
// registered (spec §9 "Bidirectional RPC without deep inheritance").
type Conn struct {
	rw       Connection
	handlers *HandlerMap
	logger   Logger

	nextID int64 // atomic

	mu      sync.Mutex
	pending map[int64]*pendingCall
	closed  bool

	cancelMu sync.Mutex
	cancels  map[string]chan struct{} // keyed by IncomingRequest.ID.String()

	progressMu sync.Mutex
	progress   map[string]func(ProgressUpdate) // keyed by fmt.Sprint(progressToken)

	wg sync.WaitGroup
}

// NewConn creates a Conn driving rw, with opts.Handlers (or an empty map)
// servicing incoming requests/notifications.
func NewConn(rw Connection, opts Options) *Conn {
	handlers := opts.Handlers
	if handlers == nil {
		handlers = NewHandlerMap()
	}
	return &Conn{
		rw:       rw,
		handlers: handlers,
		logger:   opts.Logger,
		pending:  make(map[int64]*pendingCall),
		cancels:  make(map[string]chan struct{}),
		progress: make(map[string]func(ProgressUpdate)),
	}
}

// registerProgress associates a progress token with the callback to invoke
// when notifications/progress arrives carrying it, for the lifetime of one
// outgoing call.
func (c *Conn) registerProgress(token any, cb func(ProgressUpdate)) {
	if token == nil || cb == nil {
		return
	}
	c.progressMu.Lock()
	c.progress[fmt.Sprint(token)] = cb
	c.progressMu.Unlock()
}

func (c *Conn) unregisterProgress(token any) {
	if token == nil {
		return
	}
	c.progressMu.Lock()
	delete(c.progress, fmt.Sprint(token))
	c.progressMu.Unlock()
}

func (c *Conn) warnf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(fmt.Sprintf(format, args...))
	}
}

// Run reads frames from the underlying Connection until it errs or ctx is
// done, dispatching each to the appropriate handler. It returns the
// terminating error (io.EOF on clean close).
func (c *Conn) Run(ctx context.Context) error {
	for {
		msg, err := c.rw.Read(ctx)
		if err != nil {
			c.shutdown(err)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c.dispatch(ctx, msg)
	}
}

// dispatch routes one decoded message. Batches are split by the caller
// before reaching here (DecodeBatch); a Connection implementation that
// reads whole frames is expected to call DispatchBatch for array frames.
func (c *Conn) dispatch(ctx context.Context, msg jsonrpc.Message) {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		if m.IsNotification() {
			c.handleNotification(ctx, m)
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.handleRequest(ctx, m)
			}()
		}
	case *jsonrpc.Response:
		c.handleResponse(m)
	default:
		c.warnf("jsonrpc2: dropping unrecognized message type %T", msg)
	}
}

// DispatchBatch handles a decoded batch: every element is dispatched
// concurrently, and exactly one response is produced per id-bearing
// element, reassembled (in arrival/completion order) into a single array
// sent back over rw. A batch with no id-bearing elements produces nothing.
func (c *Conn) DispatchBatch(ctx context.Context, msgs []jsonrpc.Message) {
	type indexedResp struct {
		idx  int
		resp *jsonrpc.Response
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []indexedResp
	)
	for i, msg := range msgs {
		req, ok := msg.(*jsonrpc.Request)
		if !ok || req.IsNotification() {
			c.dispatch(ctx, msg)
			continue
		}
		wg.Add(1)
		go func(i int, req *jsonrpc.Request) {
			defer wg.Done()
			resp := c.buildResponse(ctx, req)
			mu.Lock()
			results = append(results, indexedResp{i, resp})
			mu.Unlock()
		}(i, req)
	}
	wg.Wait()
	if len(results) == 0 {
		return
	}
	batch := make([]jsonrpc.Message, len(results))
	for i, r := range results {
		batch[i] = r.resp
	}
	if err := c.writeBatch(ctx, batch); err != nil {
		c.warnf("jsonrpc2: writing batch response: %v", err)
	}
}

func (c *Conn) writeBatch(ctx context.Context, batch []jsonrpc.Message) error {
	// Connections expose Write(single message); a batch-capable Connection
	// may type-assert to batchWriter for a single frame. Otherwise write
	// sequentially (still one frame per spec's "envelope boundary" rule).
	if bw, ok := c.rw.(batchWriter); ok {
		return bw.WriteBatch(ctx, batch)
	}
	for _, m := range batch {
		if err := c.rw.Write(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

type batchWriter interface {
	WriteBatch(ctx context.Context, msgs []jsonrpc.Message) error
}

func (c *Conn) handleNotification(ctx context.Context, req *jsonrpc.Request) {
	if req.Method == "notifications/cancelled" {
		c.handleCancelled(req.Params)
		return
	}
	if req.Method == "notifications/progress" {
		c.handleProgress(req.Params)
		// Progress is also delivered to any explicitly registered
		// notification handler (e.g. for logging), so fall through.
	}
	fn, ok := c.handlers.notification(req.Method)
	if !ok {
		c.warnf("jsonrpc2: no handler for notification %q, dropping", req.Method)
		return
	}
	fn(ctx, c, req.Method, req.Params)
}

func (c *Conn) handleCancelled(params json.RawMessage) {
	var p cancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.warnf("jsonrpc2: malformed notifications/cancelled: %v", err)
		return
	}
	c.cancelMu.Lock()
	ch, ok := c.cancels[p.RequestID.String()]
	c.cancelMu.Unlock()
	if ok {
		closeOnce(ch)
	}
	// Cancellation is idempotent: an unknown or already-finished id is a no-op.
}

func (c *Conn) handleProgress(params json.RawMessage) {
	var p progressParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.warnf("jsonrpc2: malformed notifications/progress: %v", err)
		return
	}
	if p.ProgressToken == nil {
		return
	}
	c.progressMu.Lock()
	cb, ok := c.progress[fmt.Sprint(p.ProgressToken)]
	c.progressMu.Unlock()
	if !ok {
		c.warnf("jsonrpc2: progress for unknown token %v, dropping", p.ProgressToken)
		return
	}
	cb(ProgressUpdate{Progress: p.Progress, Total: p.Total, Message: p.Message})
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (c *Conn) cancelSignal(id jsonrpc.ID) <-chan struct{} {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	ch, ok := c.cancels[id.String()]
	if !ok {
		ch = make(chan struct{})
		c.cancels[id.String()] = ch
	}
	return ch
}

func (c *Conn) forgetCancelSignal(id jsonrpc.ID) {
	c.cancelMu.Lock()
	delete(c.cancels, id.String())
	c.cancelMu.Unlock()
}

func (c *Conn) handleRequest(ctx context.Context, req *jsonrpc.Request) {
	resp := c.buildResponse(ctx, req)
	if err := c.rw.Write(ctx, resp); err != nil {
		c.warnf("jsonrpc2: writing response for %q: %v", req.Method, err)
	}
}

func (c *Conn) buildResponse(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	defer c.forgetCancelSignal(req.ID)
	fn, ok := c.handlers.request(req.Method)
	if !ok {
		return &jsonrpc.Response{
			ID:    req.ID,
			Error: jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, req.Method, nil),
		}
	}
	ir := &IncomingRequest{
		ID:            req.ID,
		Method:        req.Method,
		Params:        req.Params,
		ProgressToken: progressTokenFromParams(req.Params),
		conn:          c,
	}
	result, err := fn(ctx, c, ir)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			return &jsonrpc.Response{ID: req.ID, Error: rpcErr}
		}
		return &jsonrpc.Response{
			ID:    req.ID,
			Error: jsonrpc.NewStandardError(jsonrpc.CodeInternalError, err.Error(), nil),
		}
	}
	raw, merr := json.MarshalRaw(result)
	if merr != nil {
		return &jsonrpc.Response{
			ID:    req.ID,
			Error: jsonrpc.NewStandardError(jsonrpc.CodeInternalError, merr.Error(), nil),
		}
	}
	return &jsonrpc.Response{ID: req.ID, Result: raw}
}

// progressTokenFromParams extracts params._meta.progressToken without
// requiring callers to know the concrete params type.
func progressTokenFromParams(params json.RawMessage) any {
	if len(params) == 0 {
		return nil
	}
	var wrapper struct {
		Meta map[string]any `json:"_meta"`
	}
	if err := json.Unmarshal(params, &wrapper); err != nil {
		return nil
	}
	if wrapper.Meta == nil {
		return nil
	}
	return wrapper.Meta["progressToken"]
}

func (c *Conn) handleResponse(resp *jsonrpc.Response) {
	id, ok := resp.ID.Int64()
	if !ok {
		c.warnf("jsonrpc2: response with non-numeric id %v, dropping", resp.ID)
		return
	}
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		// Late or duplicate response; drop per spec §4.2.
		return
	}
	pc.complete(resp.Result, resp.Error)
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	closeErr := jsonrpc.NewStandardError(jsonrpc.CodeInternalError, "session closed", nil)
	if cause != nil && !errors.Is(cause, io.EOF) {
		closeErr.Message = fmt.Sprintf("session closed: %v", cause)
	}
	for _, pc := range pending {
		pc.complete(nil, closeErr)
	}
}

// Close closes the underlying connection and fails all outstanding pending
// calls with a terminal session-closed error, per spec §5 "Resource
// scoping".
func (c *Conn) Close() error {
	c.shutdown(nil)
	err := c.rw.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) nextRequestID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}
