// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// pendingCall is the correlation-table entry for one outgoing request: it
// owns the completion signal, per spec §9 "Correlation without cycles" —
// the call site (Call, below) holds only the returned channel/result, not
// a reference back into the table.
type pendingCall struct {
	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	rpcErr *jsonrpc.Error
}

func newPendingCall() *pendingCall {
	return &pendingCall{done: make(chan struct{})}
}

func (pc *pendingCall) complete(result json.RawMessage, rpcErr *jsonrpc.Error) {
	pc.once.Do(func() {
		pc.result = result
		pc.rpcErr = rpcErr
		close(pc.done)
	})
}

// ProgressUpdate is delivered to a Call's progress callback as
// notifications/progress messages arrive for its progress token.
type ProgressUpdate struct {
	Progress float64
	Total    float64
	Message  string
}

// CallOptions configures an outgoing Call.
type CallOptions struct {
	// ProgressToken, if non-nil, is attached to params._meta.progressToken
	// and OnProgress (if set) receives every notifications/progress update
	// correlated to it, per spec §4.2 "Progress".
	ProgressToken any
	OnProgress    func(ProgressUpdate)

	// Timeout overrides DefaultRequestTimeout; Deadline, if set, overrides
	// both.
	Timeout  time.Duration
	Deadline time.Time
}

// ErrSessionClosed is returned by Call/Notify after Close. Calls still
// pending when the Conn shuts down fail instead with a *jsonrpc.Error whose
// message starts with "session closed".
var ErrSessionClosed = errors.New("jsonrpc2: session closed")

// ErrCancelled is returned by Call when the request was cancelled, locally
// or (cooperatively) by the peer.
var ErrCancelled = errors.New("jsonrpc2: request cancelled")

// Call sends method/params as a request and blocks until a matching
// response arrives, the deadline elapses, or ctx is cancelled. On timeout
// or cancellation it best-effort notifies the peer with
// notifications/cancelled (spec §4.2 "Timeouts").
func (c *Conn) Call(ctx context.Context, method string, params any, opts *CallOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &CallOptions{}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := c.nextRequestID()
	pc := newPendingCall()
	c.pending[id] = pc
	c.mu.Unlock()

	c.registerProgress(opts.ProgressToken, opts.OnProgress)
	defer c.unregisterProgress(opts.ProgressToken)

	raw, err := marshalParams(params, opts.ProgressToken)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("jsonrpc2: marshaling params for %q: %w", method, err)
	}

	req := &jsonrpc.Request{ID: jsonrpc.Int64ID(id), Method: method, Params: raw}

	deadline := opts.Deadline
	if deadline.IsZero() {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		deadline = time.Now().Add(timeout)
	}
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := c.rw.Write(callCtx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("jsonrpc2: writing request %q: %w", method, err)
	}

	select {
	case <-pc.done:
		if pc.rpcErr != nil {
			return nil, pc.rpcErr
		}
		return pc.result, nil
	case <-callCtx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// Best-effort notify the peer; failure to deliver is soft per spec §7.
		_ = c.Notify(context.Background(), "notifications/cancelled", cancelledParams{
			RequestID: jsonrpc.Int64ID(id),
			Reason:    callCtx.Err().Error(),
		})
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("jsonrpc2: call to %q: %w", method, callCtx.Err())
	}
}

// Notify sends method/params as a fire-and-forget notification: no
// response is expected and none completes a pending record.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	raw, err := marshalParams(params, nil)
	if err != nil {
		return fmt.Errorf("jsonrpc2: marshaling params for %q: %w", method, err)
	}
	req := &jsonrpc.Request{Method: method, Params: raw}
	return c.rw.Write(ctx, req)
}

func marshalParams(params any, progressToken any) (json.RawMessage, error) {
	if progressToken == nil {
		if params == nil {
			return nil, nil
		}
		return json.MarshalRaw(params)
	}
	// Splice _meta.progressToken into the marshaled params object.
	base, err := json.MarshalRaw(params)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if len(base) == 0 || string(base) == "null" {
		m = make(map[string]json.RawMessage)
	} else if err := json.Unmarshal(base, &m); err != nil {
		return nil, fmt.Errorf("progress token requires object-shaped params: %w", err)
	}
	metaRaw, ok := m["_meta"]
	meta := make(map[string]any)
	if ok {
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return nil, err
		}
	}
	meta["progressToken"] = progressToken
	metaEncoded, err := json.MarshalRaw(meta)
	if err != nil {
		return nil, err
	}
	m["_meta"] = metaEncoded
	return json.MarshalRaw(m)
}
