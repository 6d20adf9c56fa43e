// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements the classic two-endpoint HTTP+SSE transport: a client
// opens a long-lived GET/SSE stream, the server replies with an "endpoint"
// event naming a session-scoped POST URL, and every subsequent message the
// client sends goes to that POST URL while every message the server sends
// (responses included) arrives over the original SSE stream. This predates
// streamable.go's single-endpoint, resumable design and is kept for
// interoperability with clients that only speak the older protocol
// revision; see streamable.go for the current transport.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/jsonrpc"
	"github.com/mcpcore/sdk-go/resilience"
)

// Authenticator validates an incoming HTTP request before it reaches a
// transport's session machinery. It is consumed only by the HTTP-based
// transports (SSEServerTransport, StreamableServerTransport) — never by the
// dispatcher — so authentication stays an optional, pluggable concern.
// Implementations typically wrap the auth package's OAuth2 verification or a
// bearer-token check; a nil Authenticator means every request is accepted.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// AuthenticatorFunc adapts a function to an Authenticator.
type AuthenticatorFunc func(r *http.Request) error

func (f AuthenticatorFunc) Authenticate(r *http.Request) error { return f(r) }

// SSEServerTransport implements the classic (pre-streamable) HTTP+SSE
// transport, grounded on the teacher's examples/sse/main.go
// NewSSEHandler/"pick a server per request" pattern. GET requests to the
// handler's path open an event stream; the handler immediately sends an
// "endpoint" event whose data is the URL the client must POST subsequent
// messages to (messagePath, carrying the session id as a query parameter).
// POST requests deliver one JSON-RPC message apiece and receive 202
// Accepted with no body; the actual response (or any other server-to-client
// message) is delivered asynchronously over that session's SSE stream.
type SSEServerTransport struct {
	// serverFor picks the *Server for an incoming GET request establishing
	// a new session; returning nil rejects the connection with 404.
	serverFor func(*http.Request) *Server

	// MessagePath is the path POSTed messages are served from. Defaults to
	// the GET request's path with "/message" appended.
	MessagePath string

	// Authenticator, if set, validates every GET and POST request.
	Authenticator Authenticator

	// MaxBodyBytes bounds a POSTed message body; 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// ConnOptions are passed through to every Server.Connect call.
	ConnOptions *jsonrpc2.Options

	mu       sync.Mutex
	sessions map[string]*sseServerSession
}

// NewSSEHandler returns an SSEServerTransport that dispatches each new GET
// connection to the *Server serverFor names.
func NewSSEHandler(serverFor func(*http.Request) *Server) *SSEServerTransport {
	return &SSEServerTransport{
		serverFor: serverFor,
		sessions:  make(map[string]*sseServerSession),
	}
}

type sseServerSession struct {
	id        string
	incoming  chan jsonrpc.Message
	outgoing  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newSSEServerSession(id string) *sseServerSession {
	return &sseServerSession{
		id:       id,
		incoming: make(chan jsonrpc.Message, 16),
		outgoing: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (s *sseServerSession) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *sseServerSession) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case s.outgoing <- data:
		return nil
	case <-s.closed:
		return fmt.Errorf("mcp: sse session %s is closed", s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseServerSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (t *SSEServerTransport) messagePath(requestPath string) string {
	if t.MessagePath != "" {
		return t.MessagePath
	}
	if requestPath == "" || requestPath == "/" {
		return "/message"
	}
	return requestPath + "/message"
}

// ServeHTTP routes GET (open an SSE stream) and POST (deliver one message)
// requests. It rejects any other method with 405.
func (t *SSEServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.Authenticator != nil {
		if err := t.Authenticator.Authenticate(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	switch r.Method {
	case http.MethodGet:
		t.serveSSE(w, r)
	case http.MethodPost:
		t.serveMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *SSEServerTransport) serveSSE(w http.ResponseWriter, r *http.Request) {
	server := t.serverFor(r)
	if server == nil {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := newSSEServerSession(randText())
	t.mu.Lock()
	t.sessions[sess.id] = sess
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.sessions, sess.id)
		t.mu.Unlock()
		sess.Close()
	}()

	go func() {
		if _, err := server.Connect(r.Context(), oneShotTransport{conn: sess}, t.ConnOptions); err != nil {
			log.Printf("mcp: sse session %s ended: %v", sess.id, err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := t.messagePath(r.URL.Path) + "?sessionId=" + url.QueryEscape(sess.id)
	if err := writeSSEEvent(w, sseEvent{name: "endpoint", data: []byte(endpoint)}); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case data := <-sess.outgoing:
			if err := writeSSEEvent(w, sseEvent{name: "message", data: data}); err != nil {
				return
			}
			flusher.Flush()
		case <-sess.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (t *SSEServerTransport) serveMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or expired session", http.StatusNotFound)
		return
	}

	maxBytes := effectiveMaxBodyBytes(t.MaxBodyBytes)
	var reader io.Reader = r.Body
	if maxBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON-RPC message: %v", err), http.StatusBadRequest)
		return
	}

	select {
	case sess.incoming <- msg:
		w.WriteHeader(http.StatusAccepted)
	case <-sess.closed:
		http.Error(w, "session closed", http.StatusGone)
	case <-r.Context().Done():
	}
}

// SSEClientTransport dials the classic HTTP+SSE transport: it opens a GET
// stream, waits for the server's "endpoint" event, and POSTs every outgoing
// message to that endpoint.
type SSEClientTransport struct {
	// URL is the SSE endpoint to GET (e.g. "http://localhost:8080/sse").
	URL string

	// HTTPClient is used for both the SSE GET and every message POST. If
	// nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Header carries additional headers (e.g. Authorization) on every
	// request this transport makes.
	Header http.Header
}

func (t *SSEClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &resilience.KindError{Kind: resilience.KindTransport, Err: fmt.Errorf("mcp: sse GET %s: %w", t.URL, err)}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: sse GET %s: unexpected status %s", t.URL, resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	ev, err := scanSSEEvents(reader)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: reading endpoint event: %w", err)
	}
	if ev.name != "endpoint" {
		resp.Body.Close()
		return nil, fmt.Errorf("mcp: expected an \"endpoint\" event, got %q", ev.name)
	}

	endpointURL, err := resolveEndpointURL(t.URL, string(ev.data))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	conn := &sseClientConn{
		endpointURL: endpointURL,
		client:      client,
		header:      t.Header,
		body:        resp.Body,
		reader:      reader,
		incoming:    make(chan jsonrpc.Message, 16),
		closed:      make(chan struct{}),
	}
	go conn.pump()
	return conn, nil
}

func resolveEndpointURL(base, endpoint string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

type sseClientConn struct {
	endpointURL string
	client      *http.Client
	header      http.Header

	body   io.ReadCloser
	reader *bufio.Reader

	incoming  chan jsonrpc.Message
	closed    chan struct{}
	closeOnce sync.Once
	pumpErr   error
	mu        sync.Mutex
}

// pump reads events off the SSE stream until it closes or errors, decoding
// each "message" event's data as a JSON-RPC message.
func (c *sseClientConn) pump() {
	defer close(c.incoming)
	for {
		ev, err := scanSSEEvents(c.reader)
		if err != nil {
			c.mu.Lock()
			c.pumpErr = err
			c.mu.Unlock()
			return
		}
		if ev.name != "message" && ev.name != "" {
			continue
		}
		msg, err := jsonrpc.DecodeMessage(ev.data)
		if err != nil {
			c.mu.Lock()
			c.pumpErr = fmt.Errorf("mcp: decoding sse message event: %w", err)
			c.mu.Unlock()
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *sseClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			c.mu.Lock()
			err := c.pumpErr
			c.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *sseClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &resilience.KindError{Kind: resilience.KindTransport, Err: fmt.Errorf("mcp: sse POST %s: %w", c.endpointURL, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp: sse POST %s: unexpected status %s", c.endpointURL, resp.Status)
	}
	return nil
}

func (c *sseClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.body.Close()
}
