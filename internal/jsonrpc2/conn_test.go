// Copyright 2025 The Go MCP Core SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package jsonrpc2

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// pipeConn is an in-process Connection backed by two message channels; it
// lets a test wire two Conns together without touching the network or stdio.
type pipeConn struct {
	in     chan jsonrpc.Message
	out    chan jsonrpc.Message
	mu     sync.Mutex
	closed bool
}

func newPipePair() (a, b *pipeConn) {
	ab := make(chan jsonrpc.Message, 64)
	ba := make(chan jsonrpc.Message, 64)
	return &pipeConn{in: ba, out: ab}, &pipeConn{in: ab, out: ba}
}

func (p *pipeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case m, ok := <-p.in:
		if !ok {
			return nil, errClosedPipe
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errClosedPipe
	}
	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}

type pipeClosedError struct{}

func (pipeClosedError) Error() string { return "jsonrpc2: pipe closed" }

var errClosedPipe error = pipeClosedError{}

func echoHandlers() *HandlerMap {
	hm := NewHandlerMap()
	hm.HandleRequest("echo", func(ctx context.Context, conn *Conn, req *IncomingRequest) (any, error) {
		var p map[string]any
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &p)
		}
		return p, nil
	})
	hm.HandleRequest("fail", func(ctx context.Context, conn *Conn, req *IncomingRequest) (any, error) {
		return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, "deliberate failure", nil)
	})
	hm.HandleRequest("slow", func(ctx context.Context, conn *Conn, req *IncomingRequest) (any, error) {
		select {
		case <-req.Cancelled():
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInternalError, "cancelled", nil)
		case <-time.After(2 * time.Second):
			return "too slow", nil
		}
	})
	return hm
}

func newTestConnPair(t *testing.T) (client, server *Conn) {
	t.Helper()
	a, b := newPipePair()
	client = NewConn(a, Options{Handlers: NewHandlerMap()})
	server = NewConn(b, Options{Handlers: echoHandlers()})
	ctx := context.Background()
	go client.Run(ctx)
	go server.Run(ctx)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestCallReceivesExactlyOneResponse(t *testing.T) {
	client, _ := newTestConnPair(t)
	result, err := client.Call(context.Background(), "echo", map[string]any{"x": 1}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(result) == 0 {
		t.Fatalf("Call returned empty result")
	}
}

func TestCallSurfacesHandlerError(t *testing.T) {
	client, _ := newTestConnPair(t)
	_, err := client.Call(context.Background(), "fail", nil, nil)
	if err == nil {
		t.Fatal("Call: want error, got nil")
	}
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok {
		t.Fatalf("Call: got %T, want *jsonrpc.Error", err)
	}
	if rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("Code = %d, want %d", rpcErr.Code, jsonrpc.CodeInvalidParams)
	}
}

func TestCallUnknownMethodIsMethodNotFound(t *testing.T) {
	client, _ := newTestConnPair(t)
	_, err := client.Call(context.Background(), "does-not-exist", nil, nil)
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok {
		t.Fatalf("got %T, want *jsonrpc.Error", err)
	}
	if rpcErr.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("Code = %d, want %d", rpcErr.Code, jsonrpc.CodeMethodNotFound)
	}
}

func TestNotifyProducesNoResponse(t *testing.T) {
	client, _ := newTestConnPair(t)
	if err := client.Notify(context.Background(), "echo", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	// Nothing to assert beyond "did not block/deadlock"; a notification's
	// id-less Request never populates the pending table, so there is no
	// response to await.
}

func TestCallReturnsAfterContextCancellation(t *testing.T) {
	client, _ := newTestConnPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = client.Call(ctx, "slow", nil, nil)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Call did not return after context cancellation")
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	client, _ := newTestConnPair(t)
	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "slow", nil, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	client.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want error after Close while a call is outstanding")
		}
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}

func TestPostCloseCallReturnsSessionClosed(t *testing.T) {
	client, _ := newTestConnPair(t)
	client.Close()
	_, err := client.Call(context.Background(), "echo", nil, nil)
	if err != ErrSessionClosed {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
}

func TestProgressDeliveredToCallback(t *testing.T) {
	a, b := newPipePair()
	serverHandlers := NewHandlerMap()
	serverHandlers.HandleRequest("work", func(ctx context.Context, conn *Conn, req *IncomingRequest) (any, error) {
		_ = req.Progress(ctx, "halfway", 50, 100)
		_ = req.Progress(ctx, "done", 100, 100)
		return "ok", nil
	})
	client := NewConn(a, Options{Handlers: NewHandlerMap()})
	server := NewConn(b, Options{Handlers: serverHandlers})
	ctx := context.Background()
	go client.Run(ctx)
	go server.Run(ctx)
	defer client.Close()
	defer server.Close()

	var mu sync.Mutex
	var updates []ProgressUpdate
	_, err := client.Call(ctx, "work", nil, &CallOptions{
		ProgressToken: "tok-1",
		OnProgress: func(u ProgressUpdate) {
			mu.Lock()
			updates = append(updates, u)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("got %d progress updates, want 2", len(updates))
	}
	if updates[0].Progress > updates[1].Progress {
		t.Fatalf("progress should be non-decreasing: %v then %v", updates[0].Progress, updates[1].Progress)
	}
	for _, u := range updates {
		if u.Total > 0 && u.Progress > u.Total {
			t.Fatalf("progress %v exceeds total %v", u.Progress, u.Total)
		}
	}
}

func TestDispatchBatchProducesOneResponsePerRequest(t *testing.T) {
	rec := &recordingConn{}
	server := NewConn(rec, Options{Handlers: echoHandlers()})
	t.Cleanup(func() { server.Close() })

	msgs := []jsonrpc.Message{
		&jsonrpc.Request{ID: jsonrpc.Int64ID(1), Method: "echo", Params: []byte(`{"a":1}`)},
		&jsonrpc.Request{Method: "echo", Params: []byte(`{"a":2}`)}, // notification, no id
		&jsonrpc.Request{ID: jsonrpc.Int64ID(2), Method: "fail"},
	}
	server.DispatchBatch(context.Background(), msgs)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.writeBatchCalls != 1 {
		t.Fatalf("WriteBatch called %d times, want 1 (one frame per batch)", rec.writeBatchCalls)
	}
	if len(rec.lastBatch) != 2 {
		t.Fatalf("got %d responses in the batch, want 2 (one per id-bearing request)", len(rec.lastBatch))
	}
}

// recordingConn is a no-op Connection that only records batches written via
// batchWriter, so the test can assert cardinality without a real transport.
type recordingConn struct {
	mu              sync.Mutex
	writeBatchCalls int
	lastBatch       []jsonrpc.Message
}

func (r *recordingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *recordingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	return nil
}

func (r *recordingConn) Close() error { return nil }

func (r *recordingConn) WriteBatch(ctx context.Context, msgs []jsonrpc.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeBatchCalls++
	r.lastBatch = msgs
	return nil
}
