// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements the streaming HTTP transport: a server side that
// multiplexes many sessions over POST (request/response and
// client-to-server notifications) and GET (a resumable Server-Sent-Events
// stream carrying server-initiated requests and notifications), and a
// client side that dials it. Delivery strategy (traditional single-shot
// JSON, chunked streaming, or HTTP/2 multiplexed) and compression are
// chosen per message by content_analyzer.go, per spec §4.3.1.
package mcp

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/mcpcore/sdk-go/jsonrpc"
	"github.com/mcpcore/sdk-go/resilience"
)

// sessionIDHeader identifies a streamable-HTTP session across the POST and
// GET halves of the transport.
const sessionIDHeader = "Mcp-Session-Id"

const lastEventIDHeader = "Last-Event-Id"

// ---- SSE framing -----------------------------------------------------

// sseEvent is one Server-Sent-Events record: an optional id (used for
// Last-Event-ID resumption), an optional event name, and its payload.
type sseEvent struct {
	id   string
	name string
	data []byte
}

// writeSSEEvent writes ev in the text/event-stream wire format: one "id:",
// one "event:" (if set), one "data:" line per line of payload, and a
// terminating blank line.
func writeSSEEvent(w io.Writer, ev sseEvent) error {
	var buf bytes.Buffer
	if ev.id != "" {
		fmt.Fprintf(&buf, "id: %s\n", ev.id)
	}
	if ev.name != "" {
		fmt.Fprintf(&buf, "event: %s\n", ev.name)
	}
	for _, line := range strings.Split(string(ev.data), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

// scanSSEEvents reads one event from r, blocking until a full record (ended
// by a blank line) is available. It returns io.EOF when the stream ends
// cleanly between events.
func scanSSEEvents(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	sawAny := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !sawAny {
				return sseEvent{}, err
			}
			// A final record with no trailing blank line: treat what we have
			// as complete.
			ev.data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if !sawAny {
				continue // keepalive blank lines between events
			}
			ev.data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}
		sawAny = true
		switch {
		case strings.HasPrefix(line, "id:"):
			ev.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Unknown field per the SSE spec: ignore.
		}
	}
}

// formatEventID produces the "<streamID>_<seq>" id spec §4.3.1 describes,
// so a client's Last-Event-ID identifies both which logical stream it was
// reading and how far into it.
func formatEventID(streamID string, seq int64) string {
	return streamID + "_" + strconv.FormatInt(seq, 10)
}

// parseEventID splits a Last-Event-ID value back into stream id and
// sequence number. ok is false for malformed or foreign-looking ids, which
// callers treat as "start from the beginning of a fresh stream".
func parseEventID(id string) (streamID string, seq int64, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

// ---- resumable event log ---------------------------------------------

type loggedEvent struct {
	seq int64
	ev  sseEvent
}

// eventLog is a bounded ring of recently-sent SSE events for one stream,
// replayed to a reconnecting client starting after its Last-Event-ID.
type eventLog struct {
	mu       sync.Mutex
	streamID string
	nextSeq  int64
	cap      int
	entries  []loggedEvent
}

func newEventLog(streamID string, capacity int) *eventLog {
	return &eventLog{streamID: streamID, cap: capacity}
}

// append assigns the next sequence number, records the event, and returns
// it ready to write.
func (l *eventLog) append(data []byte) sseEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.nextSeq
	l.nextSeq++
	ev := sseEvent{id: formatEventID(l.streamID, seq), name: "message", data: data}
	l.entries = append(l.entries, loggedEvent{seq: seq, ev: ev})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return ev
}

// replayAfter returns the buffered events with seq greater than after, in
// order. If after predates the buffer's retention window, replay is
// necessarily partial; the caller has no better option short of replaying
// the whole session from initialize.
func (l *eventLog) replayAfter(after int64) []sseEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []sseEvent
	for _, e := range l.entries {
		if e.seq > after {
			out = append(out, e.ev)
		}
	}
	return out
}

// ---- compression negotiation ------------------------------------------

// negotiateEncoding picks a Content-Encoding from acceptEncoding, preferring
// brotli, then zstd, then gzip, matching the codecs the rest of the module
// already depends on.
func negotiateEncoding(acceptEncoding string) string {
	for _, want := range []string{"br", "zstd", "gzip"} {
		for _, tok := range strings.Split(acceptEncoding, ",") {
			if strings.EqualFold(strings.TrimSpace(strings.SplitN(tok, ";", 2)[0]), want) {
				return want
			}
		}
	}
	return ""
}

// compressPayload encodes data with encoding, returning it unchanged if
// encoding is "" or unrecognized.
func compressPayload(data []byte, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "br":
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(data); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		gw, err := kgzip.NewWriterLevel(&buf, kgzip.BestSpeed)
		if err != nil {
			return nil, err
		}
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return buf.Bytes(), nil
}

// decompressBody reverses compressPayload for the client's read path,
// falling back to the stdlib gzip reader (sufficient for decoding; only
// encoding benefits from klauspost's speed).
func decompressBody(r io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case "gzip":
		return gzip.NewReader(r)
	default:
		return r, nil
	}
}

// ---- server side --------------------------------------------------------

// StreamableHTTPOptions configures a StreamableServerTransport.
type StreamableHTTPOptions struct {
	// MaxBodyBytes bounds an incoming POST body; see effectiveMaxBodyBytes.
	MaxBodyBytes int64

	// EventLogCapacity bounds how many SSE events per session are retained
	// for Last-Event-ID replay. Zero means a reasonable default (256).
	EventLogCapacity int

	// Thresholds overrides the default size thresholds content_analyzer.go
	// uses to choose a delivery strategy. Zero fields fall back to
	// defaultStreamingThresholds.
	Thresholds streamingThresholds

	// EnableCompression turns on Content-Encoding negotiation for
	// compression-worthy payloads (content_analyzer.go's shouldCompress).
	EnableCompression bool

	// Push, if set, lets the multiplexed strategy proactively push
	// resources related to a request's path over HTTP/2.
	Push *PushRegistry

	// Authenticator, if set, validates every POST/GET/DELETE request
	// before it reaches session machinery. See http.go's Authenticator.
	Authenticator Authenticator

	// ChunkSize bounds the size of each piece written for the Chunked and
	// Multiplexed strategies. Zero means a reasonable default (32 KiB);
	// see content_analyzer.go's chunkController.
	ChunkSize int64

	// MaxConcurrentChunks bounds how many chunk writes may be in flight at
	// once across a session's concurrent requests. Zero means a reasonable
	// default (16).
	MaxConcurrentChunks int

	// AdaptiveChunkSizing shrinks ChunkSize when writes slow down (an
	// apparent RTT increase) and grows it back toward ChunkSize on fast
	// links, per spec.md §4.3.1's "Flow control for chunked bodies".
	AdaptiveChunkSizing bool
}

// StreamableServerTransport is an http.Handler implementing the MCP
// streaming HTTP transport: POST for requests/notifications, GET for a
// resumable server-to-client event stream, DELETE to end a session.
// Construct one via NewStreamableHTTPHandler so every new session gets its
// own [ServerSession].
type StreamableServerTransport struct {
	serverFor func(*http.Request) *Server
	opts      StreamableHTTPOptions

	mu       sync.Mutex
	sessions map[string]*serverStreamSession
}

// NewStreamableHTTPHandler wires a per-request *Server factory into an
// http.Handler. The factory is consulted only when a request opens a new
// session (its initialize call); every later request for that session id
// reuses the session's already-connected *ServerSession, so serverFor may
// freely vary the *Server per caller (e.g. by auth context) without caring
// about handler-level routing for the rest of the session's lifetime.
func NewStreamableHTTPHandler(serverFor func(*http.Request) *Server, opts *StreamableHTTPOptions) *StreamableServerTransport {
	var o StreamableHTTPOptions
	if opts != nil {
		o = *opts
	}
	if o.EventLogCapacity == 0 {
		o.EventLogCapacity = 256
	}
	def := defaultStreamingThresholds()
	if o.Thresholds.ChunkThreshold == 0 {
		o.Thresholds.ChunkThreshold = def.ChunkThreshold
	}
	if o.Thresholds.MultiplexThreshold == 0 {
		o.Thresholds.MultiplexThreshold = def.MultiplexThreshold
	}
	if o.Thresholds.CompressionThreshold == 0 {
		o.Thresholds.CompressionThreshold = def.CompressionThreshold
	}
	return &StreamableServerTransport{
		serverFor: serverFor,
		opts:      o,
		sessions:  make(map[string]*serverStreamSession),
	}
}

// NewStreamableServerTransport is a convenience over
// NewStreamableHTTPHandler for the common case of serving a single, fixed
// *Server to every caller.
func NewStreamableServerTransport(server *Server, opts *StreamableHTTPOptions) *StreamableServerTransport {
	return NewStreamableHTTPHandler(func(*http.Request) *Server { return server }, opts)
}

// serverStreamSession is the per-session bridge between HTTP and the
// session's *jsonrpc2.Conn: POST bodies feed Read, and Write either
// delivers a direct response to the POST that's waiting for it or queues
// the message for GET/SSE delivery.
type serverStreamSession struct {
	id string

	incoming  chan jsonrpc.Message
	outgoing  chan []byte // already-encoded JSON payloads, one per message
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Response

	log      *eventLog
	analyzer *adaptiveAnalyzer
	chunking *chunkController
}

func newServerStreamSession(id string, th streamingThresholds, logCap int, chunkSize int64, maxConcurrentChunks int, adaptiveChunkSizing bool) *serverStreamSession {
	return &serverStreamSession{
		id:       id,
		incoming: make(chan jsonrpc.Message, 16),
		outgoing: make(chan []byte, 64),
		closed:   make(chan struct{}),
		pending:  make(map[string]chan *jsonrpc.Response),
		log:      newEventLog(id, logCap),
		analyzer: newAdaptiveAnalyzer(th, 20),
		chunking: newChunkController(chunkSize, maxConcurrentChunks, adaptiveChunkSizing),
	}
}

func (s *serverStreamSession) Read(ctx context.Context) (jsonrpc.Message, error) {
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

func (s *serverStreamSession) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if resp, ok := msg.(*jsonrpc.Response); ok {
		s.mu.Lock()
		ch, ok := s.pending[resp.ID.String()]
		if ok {
			delete(s.pending, resp.ID.String())
		}
		s.mu.Unlock()
		if ok {
			select {
			case ch <- resp:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		// No POST is waiting (the response arrived after the caller gave up,
		// or this is an unsolicited push): fall through to SSE delivery.
	}
	select {
	case s.outgoing <- data:
		return nil
	case <-s.closed:
		return fmt.Errorf("mcp: streamable session %s is closed", s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serverStreamSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// registerPending records a channel to deliver the response for reqID to,
// used while a POST request is in flight.
func (s *serverStreamSession) registerPending(reqID string) chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	return ch
}

func (s *serverStreamSession) forgetPending(reqID string) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// oneShotTransport adapts an already-constructed Connection (one per HTTP
// session) to the Transport interface Server.Connect expects.
type oneShotTransport struct{ conn Connection }

func (t oneShotTransport) Connect(ctx context.Context) (Connection, error) { return t.conn, nil }

// ServeHTTP dispatches by method: POST carries requests/notifications/
// responses-to-server-requests, GET opens the resumable event stream, and
// DELETE ends a session.
func (t *StreamableServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.opts.Authenticator != nil {
		if err := t.opts.Authenticator.Authenticate(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	switch r.Method {
	case http.MethodPost:
		t.servePOST(w, r)
	case http.MethodGet:
		t.serveGET(w, r)
	case http.MethodDelete:
		t.serveDELETE(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *StreamableServerTransport) sessionFor(r *http.Request) *serverStreamSession {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *StreamableServerTransport) servePOST(w http.ResponseWriter, r *http.Request) {
	limit := effectiveMaxBodyBytes(t.opts.MaxBodyBytes)
	body := r.Body
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		body = r.Body
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		if isMaxBytesError(err) {
			writeRequestBodyTooLarge(w)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msgs, err := jsonrpc.DecodeBatch(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := t.sessionFor(r)
	if sess == nil {
		if _, ok := soleInitializeRequest(msgs); !ok {
			http.Error(w, "mcp: unknown or missing "+sessionIDHeader, http.StatusBadRequest)
			return
		}
		server := t.serverFor(r)
		if server == nil {
			http.Error(w, "mcp: no server available for this request", http.StatusServiceUnavailable)
			return
		}
		sess = newServerStreamSession(randText(), t.opts.Thresholds, t.opts.EventLogCapacity,
			t.opts.ChunkSize, t.opts.MaxConcurrentChunks, t.opts.AdaptiveChunkSizing)
		t.mu.Lock()
		t.sessions[sess.id] = sess
		t.mu.Unlock()
		ctx := context.Background()
		go func() {
			if _, err := server.Connect(ctx, oneShotTransport{conn: sess}, nil); err != nil {
				sess.Close()
			}
		}()
		w.Header().Set(sessionIDHeader, sess.id)
	}

	waiting := make([]chan *jsonrpc.Response, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	onlyNotifications := true
	for _, m := range msgs {
		req, ok := m.(*jsonrpc.Request)
		if !ok || req.IsNotification() {
			sess.incoming <- m
			continue
		}
		onlyNotifications = false
		idStr := req.ID.String()
		ch := sess.registerPending(idStr)
		waiting = append(waiting, ch)
		ids = append(ids, idStr)
		sess.incoming <- m
	}

	if onlyNotifications {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	responses := make([]jsonrpc.Message, 0, len(waiting))
	for i, ch := range waiting {
		select {
		case resp := <-ch:
			responses = append(responses, resp)
		case <-r.Context().Done():
			sess.forgetPending(ids[i])
			http.Error(w, r.Context().Err().Error(), http.StatusRequestTimeout)
			return
		}
	}

	var payload []byte
	if len(responses) == 1 {
		payload, err = jsonrpc.EncodeMessage(responses[0])
	} else {
		payload, err = jsonrpc.EncodeBatch(responses)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.writeStrategized(w, r, sess, payload)
}

// soleInitializeRequest reports whether msgs is exactly one initialize
// request, the only shape that may legally open a session with no prior
// Mcp-Session-Id.
func soleInitializeRequest(msgs []jsonrpc.Message) (*jsonrpc.Request, bool) {
	if len(msgs) != 1 {
		return nil, false
	}
	req, ok := msgs[0].(*jsonrpc.Request)
	if !ok || req.Method != methodInitialize {
		return nil, false
	}
	return req, true
}

// writeStrategized writes payload using the strategy content_analyzer.go
// picks for its size/class: a plain response (Traditional), a flushed
// streamed response (Chunked), or the same plus an HTTP/2 push of related
// resources (Multiplexed). With EnableCompression set, a payload worth
// compressing is compressed first, whichever strategy is chosen.
func (t *StreamableServerTransport) writeStrategized(w http.ResponseWriter, r *http.Request, sess *serverStreamSession, payload []byte) {
	est := analyze(payload)
	sess.analyzer.observe(est.Size)
	strategy := chooseStrategy(est, sess.analyzer.thresholds(), false)

	w.Header().Set("Content-Type", "application/json")

	encoding := ""
	if t.opts.EnableCompression && shouldCompress(est, true, defaultStreamingThresholds().CompressionThreshold) {
		encoding = negotiateEncoding(r.Header.Get("Accept-Encoding"))
	}
	if encoding != "" {
		compressed, err := compressPayload(payload, encoding)
		if err == nil {
			payload = compressed
			w.Header().Set("Content-Encoding", encoding)
		}
	}

	if strategy == strategyMultiplexed && t.opts.Push != nil {
		t.opts.Push.TryPush(w, r.URL.Path)
	}

	if strategy == strategyTraditional {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	// Chunked and Multiplexed both stream the body in pieces and flush
	// eagerly, letting net/http's chunked transfer encoding (or HTTP/2 DATA
	// framing) carry it incrementally instead of buffering the whole thing.
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	chunking := sess.chunking
	for len(payload) > 0 {
		n := int(chunking.chunkSize())
		if n > len(payload) {
			n = len(payload)
		}
		chunking.acquire()
		start := time.Now()
		_, err := w.Write(payload[:n])
		chunking.observe(time.Since(start))
		chunking.release()
		if err != nil {
			return
		}
		payload = payload[n:]
		if canFlush {
			flusher.Flush()
		}
	}
}

func (t *StreamableServerTransport) serveGET(w http.ResponseWriter, r *http.Request) {
	sess := t.sessionFor(r)
	if sess == nil {
		http.Error(w, "mcp: unknown or missing "+sessionIDHeader, http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "mcp: streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if last := r.Header.Get(lastEventIDHeader); last != "" {
		if _, seq, ok := parseEventID(last); ok {
			for _, ev := range sess.log.replayAfter(seq) {
				if err := writeSSEEvent(w, ev); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}

	for {
		select {
		case data := <-sess.outgoing:
			ev := sess.log.append(data)
			if err := writeSSEEvent(w, ev); err != nil {
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

func (t *StreamableServerTransport) serveDELETE(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	t.mu.Lock()
	sess, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	t.mu.Unlock()
	if !ok {
		http.Error(w, "mcp: unknown or missing "+sessionIDHeader, http.StatusBadRequest)
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

// ---- client side ----------------------------------------------------

// StreamableClientTransport dials a StreamableServerTransport: it POSTs
// outgoing messages and maintains a background GET stream for
// server-initiated requests and notifications, reconnecting with backoff
// (via package resilience) and resuming from its last seen event id.
type StreamableClientTransport struct {
	// URL is the streamable HTTP endpoint.
	URL string

	// HTTPClient issues requests; defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Header carries additional request headers (e.g. Authorization).
	Header http.Header

	// Reconnect controls the backoff policy for GET stream reconnects. The
	// zero value uses resilience.DefaultPolicy.
	Reconnect resilience.Policy

	// Push, if set, validates and bounds any HTTP/2 server push promises a
	// lower-level frame source feeds it; see ClientPushCache's doc comment
	// for why nothing in this package drives it yet.
	Push *ClientPushCache
}

func (t *StreamableClientTransport) Connect(ctx context.Context) (Connection, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	policy := t.Reconnect
	if policy.MaxAttempts == 0 {
		policy = resilience.DefaultPolicy()
	}
	c := &streamableClientConn{
		url:      t.URL,
		client:   client,
		header:   t.Header.Clone(),
		incoming: make(chan jsonrpc.Message, 16),
		closed:   make(chan struct{}),
		policy:   policy,
	}
	return c, nil
}

type streamableClientConn struct {
	url    string
	client *http.Client
	header http.Header

	mu        sync.Mutex
	sessionID string

	incoming  chan jsonrpc.Message
	closed    chan struct{}
	closeOnce sync.Once

	streamOnce  sync.Once
	policy      resilience.Policy
	lastEventID string
}

func (c *streamableClientConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamableClientConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return &resilience.KindError{Kind: resilience.KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = sid
			c.streamOnce.Do(func() { go c.runStream() })
		}
		c.mu.Unlock()
	}

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil // notification, or a response with no further reply expected
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &resilience.KindError{
			Kind: resilience.Classify(&resilience.HTTPStatusError{StatusCode: resp.StatusCode}),
			Err:  fmt.Errorf("mcp: streamable POST: %s: %s", resp.Status, body),
		}
	}

	reader, err := decompressBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	msgs, err := jsonrpc.DecodeBatch(raw)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		select {
		case c.incoming <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// runStream holds the background GET connection open for the session's
// lifetime, reconnecting (with backoff and Last-Event-ID resumption) when
// it drops, until Close is called.
func (c *streamableClientConn) runStream() {
	ctx := context.Background()
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		err := resilience.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
			return c.readStreamOnce(ctx)
		})
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
				// Exhausted retries for this attempt; loop to start a fresh
				// backoff cycle rather than spinning hot.
				time.Sleep(c.policy.InitialDelay)
			}
		}
	}
}

func (c *streamableClientConn) readStreamOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	c.mu.Lock()
	req.Header.Set(sessionIDHeader, c.sessionID)
	if c.lastEventID != "" {
		req.Header.Set(lastEventIDHeader, c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return &resilience.KindError{Kind: resilience.KindTransport, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &resilience.KindError{
			Kind: resilience.Classify(&resilience.HTTPStatusError{StatusCode: resp.StatusCode}),
			Err:  fmt.Errorf("mcp: streamable GET: %s", resp.Status),
		}
	}

	br := bufio.NewReader(resp.Body)
	for {
		ev, err := scanSSEEvents(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			// A stream read failing mid-flight (reset connection, proxy
			// timeout) is exactly the transient-transport case reconnection
			// with backoff exists for.
			return &resilience.KindError{Kind: resilience.KindTransport, Err: err}
		}
		if ev.id != "" {
			c.mu.Lock()
			c.lastEventID = ev.id
			c.mu.Unlock()
		}
		if len(ev.data) == 0 {
			continue
		}
		msgs, err := jsonrpc.DecodeBatch(ev.data)
		if err != nil {
			continue // malformed event: drop and keep reading the stream
		}
		for _, m := range msgs {
			select {
			case c.incoming <- m:
			case <-c.closed:
				return nil
			}
		}
	}
}

func (c *streamableClientConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
