// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"

	internaljson "github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

// A Client is an MCP client: the peer that drives a conversation by
// connecting to one or more servers, calling their tools, and reading
// their resources and prompts. A single Client can hold many concurrent
// ClientSessions, one per server it has connected to.
type Client struct {
	impl *Implementation
	opts ClientOptions
}

// ClientOptions configures a Client's behavior, including the handlers it
// exposes to servers it connects to (sampling, elicitation, roots) and the
// capabilities it advertises during the handshake.
type ClientOptions struct {
	// Capabilities overrides the capabilities this client advertises during
	// initialize. If nil, capabilities are inferred from which handlers are
	// set below.
	Capabilities *ClientCapabilities

	// CreateMessageHandler answers sampling/createMessage requests from a
	// server. If nil, the client does not advertise sampling support and any
	// such request receives a method-not-found error.
	CreateMessageHandler func(context.Context, *CreateMessageRequest) (*CreateMessageResult, error)

	// ElicitHandler answers elicitation/create requests from a server. If
	// nil, the client does not advertise elicitation support.
	ElicitHandler func(context.Context, *ElicitRequest) (*ElicitResult, error)

	// ElicitationCompleteHandler is notified when a server reports an
	// out-of-band (URL-mode) elicitation has completed.
	ElicitationCompleteHandler func(context.Context, *ElicitationCompleteNotificationRequest)

	// ListRootsHandler answers roots/list requests from a server. If nil,
	// the client does not advertise roots support.
	ListRootsHandler func(context.Context, *ListRootsRequest) (*ListRootsResult, error)

	// LoggingMessageHandler receives notifications/message log entries from
	// a server.
	LoggingMessageHandler func(context.Context, *LoggingMessageRequest)

	// ProgressNotificationHandler receives notifications/progress updates
	// that are not already correlated to a pending Call (for instance,
	// progress on a notification the client itself issued has nowhere else
	// to go).
	ProgressNotificationHandler func(context.Context, *ProgressNotificationClientRequest)

	// ToolListChangedHandler, PromptListChangedHandler, and
	// ResourceListChangedHandler are invoked when a server sends the
	// corresponding list_changed notification.
	ToolListChangedHandler     func(context.Context, *ToolListChangedRequest)
	PromptListChangedHandler   func(context.Context, *PromptListChangedRequest)
	ResourceListChangedHandler func(context.Context, *ResourceListChangedRequest)

	// ResourceUpdatedHandler is invoked when a server reports that a
	// subscribed resource has changed.
	ResourceUpdatedHandler func(context.Context, *ResourceUpdatedNotificationRequest)

	// Logger receives warnings about malformed or unexpected traffic
	// (unknown notification methods, a response with no matching request).
	Logger jsonrpc2.Logger

	// Resilience configures the retry-with-backoff and circuit-breaker
	// behavior wrapping every outgoing call a session makes. If nil, calls
	// use [DefaultResilienceOptions].
	Resilience *ResilienceOptions
}

// NewClient creates a Client identifying itself to servers as impl, using
// opts to configure its handlers and advertised capabilities. A nil opts is
// equivalent to a zero ClientOptions.
func NewClient(impl *Implementation, opts *ClientOptions) *Client {
	c := &Client{impl: impl}
	if opts != nil {
		c.opts = *opts
	}
	return c
}

func (o *ClientOptions) capabilities() *ClientCapabilities {
	if o.Capabilities != nil {
		return o.Capabilities
	}
	caps := &ClientCapabilities{}
	if o.ListRootsHandler != nil {
		caps.RootsV2 = &RootCapabilities{ListChanged: true}
	}
	if o.CreateMessageHandler != nil {
		caps.Sampling = &SamplingCapabilities{}
	}
	if o.ElicitHandler != nil {
		caps.Elicitation = &ElicitationCapabilities{}
	}
	return caps
}

// Connect dials transport, performs the initialize/initialized handshake,
// and returns a ClientSession representing the resulting connection. The
// returned session's Ready channel is already closed by the time Connect
// returns successfully.
func (c *Client) Connect(ctx context.Context, transport Transport, opts *jsonrpc2.Options) (*ClientSession, error) {
	conn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: connecting client transport: %w", err)
	}

	cs := &ClientSession{
		Session: newSession(),
		client:  c,
	}
	cs.Session.resilience = resolveResilience(c.opts.Resilience)

	handlers := jsonrpc2.NewHandlerMap()
	cs.registerHandlers(handlers)

	var o jsonrpc2.Options
	if opts != nil {
		o = *opts
	}
	o.Handlers = handlers
	if o.Logger == nil {
		o.Logger = c.opts.Logger
	}
	cs.Session.conn = jsonrpc2.NewConn(conn, o)

	go cs.Session.runUntilDone(ctx)

	if err := cs.initialize(ctx); err != nil {
		_ = cs.Close()
		return nil, err
	}
	return cs, nil
}

// ClientSession is a client's view of one connection to a server: the
// negotiated capabilities and protocol version, and the methods for
// issuing client-to-server requests.
type ClientSession struct {
	*Session
	client *Client
}

func (cs *ClientSession) initialize(ctx context.Context) error {
	cs.setState(sessionInitializing)

	params := &InitializeParams{
		ProtocolVersion: latestProtocolVersion,
		ClientInfo:      cs.client.impl,
		Capabilities:    cs.client.opts.capabilities(),
	}
	result, err := resilientCall[InitializeResult](ctx, cs.Session, methodInitialize, params.toV2(), nil)
	if err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	res := *result
	if res.ProtocolVersion != "" && res.ProtocolVersion != params.ProtocolVersion {
		supported := false
		for _, v := range supportedProtocolVersions {
			if v == res.ProtocolVersion {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("mcp: server negotiated unsupported protocol version %q", res.ProtocolVersion)
		}
	}

	cs.mu.Lock()
	cs.protocolVersion = res.ProtocolVersion
	cs.peerCapsServer = res.Capabilities
	cs.peerInfo = res.ServerInfo
	cs.mu.Unlock()

	if err := cs.conn.Notify(ctx, notificationInitialized, &InitializedParams{}); err != nil {
		return fmt.Errorf("mcp: notifications/initialized: %w", err)
	}
	cs.markReady()
	return nil
}

// ServerInfo returns the Implementation the peer server reported in its
// initialize response. It is only valid once the session is Ready.
func (cs *ClientSession) ServerInfo() *Implementation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.peerInfo
}

// ServerCapabilities returns the capabilities the peer server negotiated
// during initialize. It is only valid once the session is Ready.
func (cs *ClientSession) ServerCapabilities() *ServerCapabilities {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.peerCapsServer
}

// Close terminates the session's connection. Calls still pending fail with
// a "session closed" *jsonrpc.Error; calls made after Close fail with
// jsonrpc2.ErrSessionClosed.
func (cs *ClientSession) Close() error { return cs.close() }

// CallTool invokes a tool on the server.
func (cs *ClientSession) CallTool(ctx context.Context, params *CallToolParams) (*CallToolResult, error) {
	opts := callOptsFor(params, nil)
	return resilientCall[CallToolResult](ctx, cs.Session, methodCallTool, params, opts)
}

// ListTools lists the server's available tools. It sends one request and
// returns the single page the server answers with; a NextCursor in the
// result is not followed.
func (cs *ClientSession) ListTools(ctx context.Context, params *ListToolsParams) (*ListToolsResult, error) {
	return resilientCall[ListToolsResult](ctx, cs.Session, methodListTools, params, nil)
}

// GetPrompt resolves a named prompt with the given arguments.
func (cs *ClientSession) GetPrompt(ctx context.Context, params *GetPromptParams) (*GetPromptResult, error) {
	return resilientCall[GetPromptResult](ctx, cs.Session, methodGetPrompt, params, nil)
}

// ListPrompts lists the server's available prompts.
func (cs *ClientSession) ListPrompts(ctx context.Context, params *ListPromptsParams) (*ListPromptsResult, error) {
	return resilientCall[ListPromptsResult](ctx, cs.Session, methodListPrompts, params, nil)
}

// ListResources lists the server's available resources.
func (cs *ClientSession) ListResources(ctx context.Context, params *ListResourcesParams) (*ListResourcesResult, error) {
	return resilientCall[ListResourcesResult](ctx, cs.Session, methodListResources, params, nil)
}

// ListResourceTemplates lists the server's resource templates.
func (cs *ClientSession) ListResourceTemplates(ctx context.Context, params *ListResourceTemplatesParams) (*ListResourceTemplatesResult, error) {
	return resilientCall[ListResourceTemplatesResult](ctx, cs.Session, methodListResourceTemplates, params, nil)
}

// ReadResource reads a resource by URI.
func (cs *ClientSession) ReadResource(ctx context.Context, params *ReadResourceParams) (*ReadResourceResult, error) {
	return resilientCall[ReadResourceResult](ctx, cs.Session, methodReadResource, params, nil)
}

// Subscribe requests resources/updated notifications for a resource.
func (cs *ClientSession) Subscribe(ctx context.Context, params *SubscribeParams) error {
	_, err := resilientCall[emptyResult](ctx, cs.Session, methodSubscribe, params, nil)
	return err
}

// Unsubscribe cancels a prior Subscribe.
func (cs *ClientSession) Unsubscribe(ctx context.Context, params *UnsubscribeParams) error {
	_, err := resilientCall[emptyResult](ctx, cs.Session, methodUnsubscribe, params, nil)
	return err
}

// Complete requests argument-completion suggestions.
func (cs *ClientSession) Complete(ctx context.Context, params *CompleteParams) (*CompleteResult, error) {
	return resilientCall[CompleteResult](ctx, cs.Session, methodComplete, params, nil)
}

// SetLoggingLevel asks the server to restrict notifications/message to the
// given level and above.
func (cs *ClientSession) SetLoggingLevel(ctx context.Context, level LoggingLevel) error {
	_, err := resilientCall[emptyResult](ctx, cs.Session, methodSetLevel, &SetLoggingLevelParams{Level: level}, nil)
	return err
}

// Ping checks that the server is still responsive. Unlike every other
// method here, Ping is answerable in any session state.
func (cs *ClientSession) Ping(ctx context.Context) error {
	_, err := resilientCall[emptyResult](ctx, cs.Session, methodPing, &PingParams{}, nil)
	return err
}

func (cs *ClientSession) registerHandlers(h *jsonrpc2.HandlerMap) {
	opts := &cs.client.opts

	h.HandleRequest(methodCreateMessage, gate(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if opts.CreateMessageHandler == nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodCreateMessage, nil)
		}
		params := &CreateMessageParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return opts.CreateMessageHandler(ctx, newClientRequest(cs, params))
	}))

	h.HandleRequest(methodElicit, gate(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if opts.ElicitHandler == nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodElicit, nil)
		}
		params := &ElicitParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return opts.ElicitHandler(ctx, newClientRequest(cs, params))
	}))

	h.HandleRequest(methodListRoots, gate(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		if opts.ListRootsHandler == nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeMethodNotFound, methodListRoots, nil)
		}
		params := &ListRootsParams{}
		if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
			return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
		}
		return opts.ListRootsHandler(ctx, newClientRequest(cs, params))
	}))

	h.HandleRequest(methodPing, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		return &struct{}{}, nil
	})

	registerDiscover(h, func() string {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.protocolVersion
	}, func() map[string]any {
		cs.mu.Lock()
		caps := cs.client.opts.capabilities()
		cs.mu.Unlock()
		raw, err := internaljson.Marshal(caps)
		if err != nil {
			return nil
		}
		var m map[string]any
		_ = internaljson.Unmarshal(raw, &m)
		return m
	})

	h.HandleNotification(notificationLoggingMessage, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.LoggingMessageHandler == nil {
			return
		}
		params := &LoggingMessageParams{}
		if internaljson.Unmarshal(raw, params) == nil {
			opts.LoggingMessageHandler(ctx, newClientRequest(cs, params))
		}
	}))

	h.HandleNotification(notificationProgress, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.ProgressNotificationHandler == nil {
			return
		}
		params := &ProgressNotificationParams{}
		if internaljson.Unmarshal(raw, params) == nil {
			opts.ProgressNotificationHandler(ctx, newClientRequest(cs, params))
		}
	})

	h.HandleNotification(notificationToolListChanged, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.ToolListChangedHandler != nil {
			opts.ToolListChangedHandler(ctx, newClientRequest(cs, &ToolListChangedParams{}))
		}
	}))

	h.HandleNotification(notificationPromptListChanged, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.PromptListChangedHandler != nil {
			opts.PromptListChangedHandler(ctx, newClientRequest(cs, &PromptListChangedParams{}))
		}
	}))

	h.HandleNotification(notificationResourceListChanged, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.ResourceListChangedHandler != nil {
			opts.ResourceListChangedHandler(ctx, newClientRequest(cs, &ResourceListChangedParams{}))
		}
	}))

	h.HandleNotification(notificationResourceUpdated, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.ResourceUpdatedHandler == nil {
			return
		}
		params := &ResourceUpdatedNotificationParams{}
		if internaljson.Unmarshal(raw, params) == nil {
			opts.ResourceUpdatedHandler(ctx, newClientRequest(cs, params))
		}
	}))

	h.HandleNotification(notificationElicitationComplete, gateNotification(cs.Session, func(ctx context.Context, conn *jsonrpc2.Conn, method string, raw internaljson.RawMessage) {
		if opts.ElicitationCompleteHandler == nil {
			return
		}
		params := &ElicitationCompleteParams{}
		if internaljson.Unmarshal(raw, params) == nil {
			opts.ElicitationCompleteHandler(ctx, newClientRequest(cs, params))
		}
	}))
}
