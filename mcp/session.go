// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file holds the session state machine and the request/notification
// surface exposed to callers on each side of a connection: ClientSession
// (the client's view of a connection to a server) and ServerSession (the
// server's view of a connection from a client), both wrapping a shared
// Session that drives an internal/jsonrpc2.Conn.

package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	internaljson "github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// sessionState tracks the Created→Initializing→Ready→Closing→Closed
// lifecycle.
type sessionState int32

const (
	sessionCreated sessionState = iota
	sessionInitializing
	sessionReady
	sessionClosing
	sessionClosed
)

// Session holds the state shared by ClientSession and ServerSession: the
// underlying dispatcher connection, the negotiated protocol version and
// peer capabilities, and the lifecycle state machine.
type Session struct {
	id   string
	conn *jsonrpc2.Conn

	state atomic.Int32

	mu              sync.Mutex
	protocolVersion string
	peerCapsClient  *ClientCapabilities // set on the server side
	peerCapsServer  *ServerCapabilities // set on the client side
	peerInfo        *Implementation

	readyOnce sync.Once
	readyCh   chan struct{}

	doneOnce sync.Once
	doneCh   chan struct{}
	doneErr  error

	resilience   ResilienceOptions
	breakersOnce sync.Once
	breakers     *breakerRegistry
}

func newSession() *Session {
	return &Session{
		id:         randText(),
		readyCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
		resilience: DefaultResilienceOptions(),
	}
}

// ID returns the locally generated identifier for this session. It is not
// part of the wire protocol; it exists for logging and HTTP transports that
// need a session key (Mcp-Session-Id).
func (s *Session) ID() string { return s.id }

func (s *Session) state_() sessionState { return sessionState(s.state.Load()) }

func (s *Session) setState(v sessionState) { s.state.Store(int32(v)) }

func (s *Session) markReady() {
	s.setState(sessionReady)
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// Ready returns a channel that is closed once the session reaches the Ready
// state (handshake complete).
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.setState(sessionClosed)
		s.doneErr = err
		close(s.doneCh)
	})
}

// Wait blocks until the session's connection terminates (whether via Close
// or a transport error) and returns the terminating error, if any.
func (s *Session) Wait() error {
	<-s.doneCh
	return s.doneErr
}

// close transitions to Closing, closes the underlying connection (which
// fails every pending call per spec §5's resource-scoping rule), and
// records the terminal error.
func (s *Session) close() error {
	s.setState(sessionClosing)
	err := s.conn.Close()
	s.finish(err)
	return err
}

// runUntilDone drives the connection's read loop and marks the session
// finished when it returns, so Wait observes transport-initiated closes
// (not just explicit Close calls).
func (s *Session) runUntilDone(ctx context.Context) {
	err := s.conn.Run(ctx)
	s.finish(err)
}

// notReadyError is returned for any non-handshake, non-ping method
// received before the session reaches Ready, per spec §4.1's failure
// semantics.
func notReadyError() error {
	return jsonrpc.NewStandardError(jsonrpc.CodeInvalidRequest, "session has not completed initialization", nil)
}

// gate wraps a request handler so it is rejected with CodeInvalidRequest
// until the session is Ready. methodPing is never gated: it carries no
// session semantics and must be answerable in any state (see DESIGN.md's
// "ping before Ready" decision).
func gate(s *Session, fn jsonrpc2.RequestHandler) jsonrpc2.RequestHandler {
	return func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.IncomingRequest) (any, error) {
		if s.state_() != sessionReady {
			return nil, notReadyError()
		}
		return fn(ctx, conn, req)
	}
}

// gateNotification is gate's counterpart for notification handlers: an
// out-of-order notification is simply dropped (JSON-RPC notifications
// never get an error response), but logged.
func gateNotification(s *Session, fn jsonrpc2.NotificationHandler) jsonrpc2.NotificationHandler {
	return func(ctx context.Context, conn *jsonrpc2.Conn, method string, params internaljson.RawMessage) {
		if s.state_() != sessionReady {
			return
		}
		fn(ctx, conn, method, params)
	}
}

// call issues an outgoing request and decodes its result into a fresh *R.
func call[R any](ctx context.Context, conn *jsonrpc2.Conn, method string, params Params, opts *jsonrpc2.CallOptions) (*R, error) {
	raw, err := conn.Call(ctx, method, params, opts)
	if err != nil {
		return nil, err
	}
	var res R
	if len(raw) > 0 {
		if err := internaljson.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("mcp: decoding %s result: %w", method, err)
		}
	}
	return &res, nil
}

// callOptsFor builds jsonrpc2.CallOptions for params, wiring progress
// correlation when the caller set a progress token via
// Params.SetProgressToken.
func callOptsFor(p Params, onProgress func(ProgressUpdate)) *jsonrpc2.CallOptions {
	token := p.GetProgressToken()
	if token == nil || onProgress == nil {
		return nil
	}
	return &jsonrpc2.CallOptions{
		ProgressToken: token,
		OnProgress:    onProgress,
	}
}

// ProgressUpdate is delivered to the progress callback that callOptsFor
// wires into a request's jsonrpc2.CallOptions. It mirrors
// internal/jsonrpc2.ProgressUpdate so callers never need that package.
type ProgressUpdate = jsonrpc2.ProgressUpdate

// negotiateVersion picks the protocol version a server responds with: the
// client's offered version if the server supports it, else its own
// highest supported version (letting the initiator decide whether to
// proceed), per spec §4.1 and DESIGN.md's "version mismatch" decision.
func negotiateVersion(offered string) string {
	for _, v := range supportedProtocolVersions {
		if v == offered {
			return offered
		}
	}
	return latestProtocolVersion
}

// supportedProtocolVersions lists every protocol version this SDK can
// speak, most recent first; latestProtocolVersion is what a client offers
// and what a server falls back to when it doesn't support the client's
// offer.
var supportedProtocolVersions = []string{"2025-06-18", "2025-03-26"}

const latestProtocolVersion = "2025-06-18"
