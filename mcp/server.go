// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	internaljson "github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// defaultPageSize bounds how many items a single tools/list, prompts/list,
// resources/list, or resources/templates/list response returns before
// handing back a cursor for the rest.
const defaultPageSize = 50

// A Server is an MCP server: a registry of tools, resources, and prompts
// that it exposes to any client that connects to it. A single Server can
// drive many concurrent ServerSessions, one per connected client.
type Server struct {
	impl *Implementation
	opts ServerOptions

	mu                sync.Mutex
	tools             map[string]*serverTool
	resources         map[string]*ServerResource
	resourceTemplates []*ServerResourceTemplate
	prompts           map[string]*ServerPrompt
}

// ServerOptions configures a Server's advertised capabilities and
// lifecycle hooks.
type ServerOptions struct {
	// Instructions describes how to use the server, passed to the client in
	// the initialize response.
	Instructions string

	// InitializedHandler, if set, is called once a session completes the
	// notifications/initialized handshake step.
	InitializedHandler func(context.Context, *InitializedRequest)

	// ResourceSubscriptions enables resources/subscribe and
	// resources/unsubscribe; when false (the default) the server advertises
	// no subscribe support and both methods return method-not-found.
	ResourceSubscriptions bool

	// CompletionHandler answers completion/complete requests. If nil, the
	// server does not advertise completion support.
	CompletionHandler func(context.Context, *CompleteRequest) (*CompleteResult, error)

	// Logger receives warnings about malformed or unexpected traffic.
	Logger jsonrpc2.Logger

	// SchemaCache, if set, caches resolved tool input/output schemas across
	// AddTool/AddToolFunc calls. Create one with [NewSchemaCache] and share it
	// across servers that are re-created per request (for instance a
	// stateless HTTP deployment that rebuilds its tool set on every call).
	SchemaCache *schemaCache

	// Resilience configures the retry-with-backoff and circuit-breaker
	// behavior wrapping every server-to-client call (sampling, elicitation,
	// roots). If nil, calls use [DefaultResilienceOptions].
	Resilience *ResilienceOptions
}

// NewServer creates a Server identifying itself to clients as impl.
func NewServer(impl *Implementation, opts *ServerOptions) *Server {
	s := &Server{
		impl:              impl,
		tools:             make(map[string]*serverTool),
		resources:         make(map[string]*ServerResource),
		prompts:           make(map[string]*ServerPrompt),
		resourceTemplates: nil,
	}
	if opts != nil {
		s.opts = *opts
	}
	return s
}

func (s *Server) addTool(st *serverTool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[st.tool.Name] = st
}

func (s *Server) capabilities() *ServerCapabilities {
	caps := &ServerCapabilities{
		Tools: &ToolCapabilities{ListChanged: true},
	}
	s.mu.Lock()
	hasResources := len(s.resources) > 0 || len(s.resourceTemplates) > 0
	hasPrompts := len(s.prompts) > 0
	s.mu.Unlock()
	if hasResources {
		caps.Resources = &ResourceCapabilities{ListChanged: true, Subscribe: s.opts.ResourceSubscriptions}
	}
	if hasPrompts {
		caps.Prompts = &PromptCapabilities{ListChanged: true}
	}
	caps.Logging = &LoggingCapabilities{}
	if s.opts.CompletionHandler != nil {
		caps.Completions = &CompletionCapabilities{}
	}
	return caps
}

// Connect performs the server side of the initialize/initialized
// handshake over a connection accepted from transport and returns the
// resulting ServerSession. Unlike Client.Connect, Connect returns as soon
// as the dispatcher is running; the handshake itself completes
// asynchronously and is observed via the returned session's Ready channel.
func (s *Server) Connect(ctx context.Context, transport Transport, opts *jsonrpc2.Options) (*ServerSession, error) {
	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: connecting server transport: %w", err)
	}

	ss := &ServerSession{
		Session:   newSession(),
		server:    s,
		logLevel:  "info",
		subscribe: make(map[string]bool),
	}
	ss.Session.resilience = resolveResilience(s.opts.Resilience)

	handlers := jsonrpc2.NewHandlerMap()
	ss.registerHandlers(handlers)

	var o jsonrpc2.Options
	if opts != nil {
		o = *opts
	}
	o.Handlers = handlers
	if o.Logger == nil {
		o.Logger = s.opts.Logger
	}
	ss.Session.conn = jsonrpc2.NewConn(conn, o)

	go ss.Session.runUntilDone(ctx)

	return ss, nil
}

// ServerSession is a server's view of one connection from a client: the
// negotiated capabilities and protocol version, the client's resource
// subscriptions, and the methods for issuing server-to-client requests.
type ServerSession struct {
	*Session
	server *Server

	logMu    sync.Mutex
	logLevel LoggingLevel

	subMu     sync.Mutex
	subscribe map[string]bool
}

// ClientInfo returns the Implementation the peer client reported in its
// initialize request. It is only valid once the session is Ready.
func (ss *ServerSession) ClientInfo() *Implementation {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.peerInfo
}

// ClientCapabilities returns the capabilities the peer client negotiated
// during initialize. It is only valid once the session is Ready.
func (ss *ServerSession) ClientCapabilities() *ClientCapabilities {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.peerCapsClient
}

// Close terminates the session's connection.
func (ss *ServerSession) Close() error { return ss.close() }

// NotifyProgress sends a notifications/progress update correlated with an
// in-flight request's progress token.
func (ss *ServerSession) NotifyProgress(ctx context.Context, params *ProgressNotificationParams) error {
	return ss.conn.Notify(ctx, notificationProgress, params)
}

// CreateMessage asks the client to sample from an LLM on the server's
// behalf.
func (ss *ServerSession) CreateMessage(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	opts := callOptsFor(params, nil)
	return resilientCall[CreateMessageResult](ctx, ss.Session, methodCreateMessage, params, opts)
}

// Elicit asks the client to collect additional information from the user.
func (ss *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	opts := callOptsFor(params, nil)
	return resilientCall[ElicitResult](ctx, ss.Session, methodElicit, params, opts)
}

// ListRoots asks the client for its configured filesystem roots.
func (ss *ServerSession) ListRoots(ctx context.Context, params *ListRootsParams) (*ListRootsResult, error) {
	return resilientCall[ListRootsResult](ctx, ss.Session, methodListRoots, params, nil)
}

// NotifyLoggingMessage sends a log entry to the client, subject to the
// level the client last set via logging/setLevel.
func (ss *ServerSession) NotifyLoggingMessage(ctx context.Context, params *LoggingMessageParams) error {
	ss.logMu.Lock()
	level := ss.logLevel
	ss.logMu.Unlock()
	if !logLevelAtLeast(params.Level, level) {
		return nil
	}
	return ss.conn.Notify(ctx, notificationLoggingMessage, params)
}

// NotifyToolListChanged tells the client that the server's tool set has
// changed.
func (ss *ServerSession) NotifyToolListChanged(ctx context.Context) error {
	return ss.conn.Notify(ctx, notificationToolListChanged, &ToolListChangedParams{})
}

// NotifyPromptListChanged tells the client that the server's prompt set
// has changed.
func (ss *ServerSession) NotifyPromptListChanged(ctx context.Context) error {
	return ss.conn.Notify(ctx, notificationPromptListChanged, &PromptListChangedParams{})
}

// NotifyResourceListChanged tells the client that the server's resource
// set has changed.
func (ss *ServerSession) NotifyResourceListChanged(ctx context.Context) error {
	return ss.conn.Notify(ctx, notificationResourceListChanged, &ResourceListChangedParams{})
}

// NotifyResourceUpdated tells a subscribed client that uri has changed. It
// is a no-op if the client never subscribed to uri.
func (ss *ServerSession) NotifyResourceUpdated(ctx context.Context, uri string) error {
	ss.subMu.Lock()
	subscribed := ss.subscribe[uri]
	ss.subMu.Unlock()
	if !subscribed {
		return nil
	}
	return ss.conn.Notify(ctx, notificationResourceUpdated, &ResourceUpdatedNotificationParams{URI: uri})
}

var logLevelRank = map[LoggingLevel]int{
	"debug": 0, "info": 1, "notice": 2, "warning": 3,
	"error": 4, "critical": 5, "alert": 6, "emergency": 7,
}

func logLevelAtLeast(msg, floor LoggingLevel) bool {
	return logLevelRank[msg] >= logLevelRank[floor]
}

func (ss *ServerSession) registerHandlers(h *jsonrpc2.HandlerMap) {
	s := ss.server

	h.HandleRequest(methodInitialize, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if !ss.state.CompareAndSwap(int32(sessionCreated), int32(sessionInitializing)) {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidRequest, "session already initialized", nil)
		}

		var v2 initializeParamsV2
		if err := internaljson.Unmarshal(ireq.Params, &v2); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		params := v2.toV1()

		ss.mu.Lock()
		ss.protocolVersion = negotiateVersion(params.ProtocolVersion)
		ss.peerCapsClient = params.Capabilities
		ss.peerInfo = params.ClientInfo
		ss.mu.Unlock()

		return &InitializeResult{
			ProtocolVersion: ss.protocolVersion,
			Capabilities:    s.capabilities(),
			Instructions:    s.opts.Instructions,
			ServerInfo:      s.impl,
		}, nil
	})

	h.HandleNotification(notificationInitialized, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		ss.markReady()
		if s.opts.InitializedHandler != nil {
			s.opts.InitializedHandler(ctx, newServerRequest(ss, &InitializedParams{}))
		}
	})

	h.HandleRequest(methodPing, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		return &struct{}{}, nil
	})

	registerDiscover(h, func() string {
		ss.mu.Lock()
		defer ss.mu.Unlock()
		return ss.protocolVersion
	}, func() map[string]any {
		caps, err := internaljson.Marshal(s.capabilities())
		if err != nil {
			return nil
		}
		var m map[string]any
		_ = internaljson.Unmarshal(caps, &m)
		return m
	})

	h.HandleRequest(methodCallTool, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &CallToolParamsRaw{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		s.mu.Lock()
		st, ok := s.tools[params.Name]
		s.mu.Unlock()
		if !ok {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeToolNotFound, fmt.Sprintf("tool %q not found", params.Name), nil)
		}
		return st.handler(ctx, newServerRequest(ss, params))
	}))

	h.HandleRequest(methodListTools, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &ListToolsParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		s.mu.Lock()
		names := make([]string, 0, len(s.tools))
		for n := range s.tools {
			names = append(names, n)
		}
		sort.Strings(names)
		tools := make([]*Tool, len(names))
		for i, n := range names {
			tools[i] = s.tools[n].tool
		}
		s.mu.Unlock()
		page, next, err := paginate(params.Cursor, tools)
		if err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return &ListToolsResult{Tools: page, NextCursor: next}, nil
	}))

	h.HandleRequest(methodListResources, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &ListResourcesParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		s.mu.Lock()
		uris := make([]string, 0, len(s.resources))
		for u := range s.resources {
			uris = append(uris, u)
		}
		sort.Strings(uris)
		resources := make([]*Resource, len(uris))
		for i, u := range uris {
			resources[i] = s.resources[u].Resource
		}
		s.mu.Unlock()
		page, next, err := paginate(params.Cursor, resources)
		if err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return &ListResourcesResult{Resources: page, NextCursor: next}, nil
	}))

	h.HandleRequest(methodListResourceTemplates, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &ListResourceTemplatesParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		s.mu.Lock()
		templates := make([]*ResourceTemplate, len(s.resourceTemplates))
		for i, rt := range s.resourceTemplates {
			templates[i] = rt.ResourceTemplate
		}
		s.mu.Unlock()
		page, next, err := paginate(params.Cursor, templates)
		if err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return &ListResourceTemplatesResult{ResourceTemplates: page, NextCursor: next}, nil
	}))

	h.HandleRequest(methodReadResource, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &ReadResourceParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		handler, err := s.resolveResource(params.URI)
		if err != nil {
			return nil, err
		}
		return handler(ctx, ss, params)
	}))

	h.HandleRequest(methodSubscribe, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if !s.opts.ResourceSubscriptions {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodSubscribe, nil)
		}
		params := &SubscribeParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		ss.subMu.Lock()
		ss.subscribe[params.URI] = true
		ss.subMu.Unlock()
		return &struct{}{}, nil
	}))

	h.HandleRequest(methodUnsubscribe, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if !s.opts.ResourceSubscriptions {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodUnsubscribe, nil)
		}
		params := &UnsubscribeParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		ss.subMu.Lock()
		delete(ss.subscribe, params.URI)
		ss.subMu.Unlock()
		return &struct{}{}, nil
	}))

	h.HandleRequest(methodListPrompts, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &ListPromptsParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		s.mu.Lock()
		names := make([]string, 0, len(s.prompts))
		for n := range s.prompts {
			names = append(names, n)
		}
		sort.Strings(names)
		prompts := make([]*Prompt, len(names))
		for i, n := range names {
			prompts[i] = s.prompts[n].Prompt
		}
		s.mu.Unlock()
		page, next, err := paginate(params.Cursor, prompts)
		if err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return &ListPromptsResult{Prompts: page, NextCursor: next}, nil
	}))

	h.HandleRequest(methodGetPrompt, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &GetPromptParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		handler, err := s.resolvePrompt(params.Name)
		if err != nil {
			return nil, err
		}
		return handler(ctx, newServerRequest(ss, params))
	}))

	h.HandleRequest(methodComplete, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if s.opts.CompletionHandler == nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodComplete, nil)
		}
		params := &CompleteParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return s.opts.CompletionHandler(ctx, newServerRequest(ss, params))
	}))

	h.HandleRequest(methodSetLevel, gate(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &SetLoggingLevelParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		ss.logMu.Lock()
		ss.logLevel = params.Level
		ss.logMu.Unlock()
		return &struct{}{}, nil
	}))

	h.HandleNotification(notificationRootsListChanged, gateNotification(ss.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
	}))

	h.HandleNotification(notificationCancelled, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		// Cancellation is handled inside internal/jsonrpc2.Conn itself
		// (IncomingRequest.Cancelled); nothing to do at this layer.
	})
}

// paginate slices items into a page of at most defaultPageSize entries,
// starting after cursor (an opaque decimal offset produced by a previous
// call's nextCursor), and returns the cursor for the following page, or ""
// once the final page has been returned.
func paginate[T any](cursor string, items []T) (page []T, next string, err error) {
	start := 0
	if cursor != "" {
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 || start > len(items) {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	end := start + defaultPageSize
	if end >= len(items) {
		return items[start:], "", nil
	}
	return items[start:end], strconv.Itoa(end), nil
}
