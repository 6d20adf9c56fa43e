// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements rpc.discover, a built-in introspection method
// answered directly by the dispatcher rather than by server- or
// client-registered handlers. The method registry it reports from is
// static: it describes the protocol's method catalog, not which handlers a
// particular Server or Client installed.

package mcp

import (
	"context"
	"strings"

	internaljson "github.com/mcpcore/sdk-go/internal/json"
	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
	"github.com/mcpcore/sdk-go/jsonrpc"
)

const methodDiscover = "rpc.discover"

// methodDirection classifies who initiates a catalog method.
type methodDirection string

const (
	directionClientToServer methodDirection = "client-to-server"
	directionServerToClient methodDirection = "server-to-client"
	directionBidirectional  methodDirection = "bidirectional"
)

// methodKind classifies whether a catalog method expects a response.
type methodKind string

const (
	kindRequest      methodKind = "request"
	kindNotification methodKind = "notification"
)

// methodDescriptor is the static registry entry for one catalog method.
type methodDescriptor struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Type               methodKind      `json:"type"`
	Direction          methodDirection `json:"direction"`
	SupportsProgress   bool            `json:"supports_progress"`
	SupportsCancel     bool            `json:"supports_cancellation"`
	Tags               []string        `json:"tags,omitempty"`
	ParamsSchemaName   string          `json:"-"`
	ResultSchemaName   string          `json:"-"`
	paramsExampleIsReq bool
}

// category returns the prefix before the first '/' in the method name, or
// the whole name for prefix-free methods like "ping" and "initialize".
func (d methodDescriptor) category() string {
	if i := strings.IndexByte(d.Name, '/'); i >= 0 {
		return d.Name[:i]
	}
	return d.Name
}

func (d methodDescriptor) hasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// methodRegistry is the full static catalog, populated at init time from
// the method-name constants already declared in protocol.go.
var methodRegistry = []methodDescriptor{
	{Name: methodInitialize, Description: "Negotiate protocol version and capabilities.", Type: kindRequest, Direction: directionClientToServer, Tags: []string{"handshake"}},
	{Name: notificationInitialized, Description: "Confirm the handshake is complete.", Type: kindNotification, Direction: directionClientToServer, Tags: []string{"handshake"}},
	{Name: methodPing, Description: "Liveness check, answerable in any session state.", Type: kindRequest, Direction: directionBidirectional, Tags: []string{"handshake"}},

	{Name: methodListTools, Description: "List available tools.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, Tags: []string{"tools"}},
	{Name: methodCallTool, Description: "Invoke a tool.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, SupportsCancel: true, Tags: []string{"tools"}},
	{Name: notificationToolListChanged, Description: "The server's tool set changed.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"tools"}},

	{Name: methodListResources, Description: "List available resources.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, Tags: []string{"resources"}},
	{Name: methodListResourceTemplates, Description: "List resource templates.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, Tags: []string{"resources"}},
	{Name: methodReadResource, Description: "Read a resource by URI.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, SupportsCancel: true, Tags: []string{"resources"}},
	{Name: methodSubscribe, Description: "Subscribe to a resource's updates.", Type: kindRequest, Direction: directionClientToServer, Tags: []string{"resources"}},
	{Name: methodUnsubscribe, Description: "Cancel a resource subscription.", Type: kindRequest, Direction: directionClientToServer, Tags: []string{"resources"}},
	{Name: notificationResourceListChanged, Description: "The server's resource set changed.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"resources"}},
	{Name: notificationResourceUpdated, Description: "A subscribed resource changed.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"resources"}},

	{Name: methodListPrompts, Description: "List available prompts.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, Tags: []string{"prompts"}},
	{Name: methodGetPrompt, Description: "Resolve a prompt with arguments.", Type: kindRequest, Direction: directionClientToServer, SupportsProgress: true, Tags: []string{"prompts"}},
	{Name: notificationPromptListChanged, Description: "The server's prompt set changed.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"prompts"}},

	{Name: methodSetLevel, Description: "Set the minimum log level to receive.", Type: kindRequest, Direction: directionClientToServer, Tags: []string{"logging"}},
	{Name: notificationLoggingMessage, Description: "A log entry from the server.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"logging"}},

	{Name: methodComplete, Description: "Request argument-completion suggestions.", Type: kindRequest, Direction: directionClientToServer, Tags: []string{"completion"}},

	{Name: methodCreateMessage, Description: "Ask the client to sample from an LLM.", Type: kindRequest, Direction: directionServerToClient, SupportsProgress: true, SupportsCancel: true, Tags: []string{"sampling"}},
	{Name: methodElicit, Description: "Ask the client to collect information from the user.", Type: kindRequest, Direction: directionServerToClient, SupportsCancel: true, Tags: []string{"elicitation"}},
	{Name: notificationElicitationComplete, Description: "An out-of-band elicitation completed.", Type: kindNotification, Direction: directionServerToClient, Tags: []string{"elicitation"}},
	{Name: methodListRoots, Description: "Ask the client for its configured roots.", Type: kindRequest, Direction: directionServerToClient, Tags: []string{"roots"}},
	{Name: notificationRootsListChanged, Description: "The client's root set changed.", Type: kindNotification, Direction: directionClientToServer, Tags: []string{"roots"}},

	{Name: notificationProgress, Description: "Progress update for an in-flight request.", Type: kindNotification, Direction: directionBidirectional, Tags: []string{"progress"}},
	{Name: notificationCancelled, Description: "Cooperative cancellation of an in-flight request.", Type: kindNotification, Direction: directionBidirectional, Tags: []string{"cancellation"}},

	{Name: methodDiscover, Description: "Introspect the method catalog.", Type: kindRequest, Direction: directionBidirectional, Tags: []string{"introspection"}},
}

// DiscoverFilter selects a subset of the method registry for rpc.discover.
// Exactly one of Preset, Category, or Tags should be set. A Preset of
// "client", "server" or "notifications" takes precedence over the others;
// with Preset empty or "all", Category applies if set, else Tags.
type DiscoverFilter struct {
	// Preset is one of "all", "client", "server", "notifications".
	Preset string `json:"preset,omitempty"`
	// Category restricts to methods whose name begins "Category/".
	Category string `json:"category,omitempty"`
	// Tags restricts to methods matching any of the given tags.
	Tags []string `json:"tags,omitempty"`
}

// UnmarshalJSON accepts either a bare preset string (e.g. `"notifications"`,
// the canonical wire form for a preset filter) or an object of the form
// {"preset": ...}, {"category": ...}, or {"tags": [...]}.
func (f *DiscoverFilter) UnmarshalJSON(data []byte) error {
	var preset string
	if err := internaljson.Unmarshal(data, &preset); err == nil {
		f.Preset = preset
		f.Category = ""
		f.Tags = nil
		return nil
	}
	type discoverFilterObject DiscoverFilter
	var obj discoverFilterObject
	if err := internaljson.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = DiscoverFilter(obj)
	return nil
}

func (f *DiscoverFilter) matches(d methodDescriptor) bool {
	switch f.Preset {
	case "", "all":
		// fall through to Category/Tags below
	case "client":
		return d.Direction == directionClientToServer || d.Direction == directionBidirectional
	case "server":
		return d.Direction == directionServerToClient || d.Direction == directionBidirectional
	case "notifications":
		return d.Type == kindNotification
	default:
		return false
	}
	if f.Category != "" {
		return d.category() == f.Category
	}
	if len(f.Tags) > 0 {
		for _, t := range f.Tags {
			if d.hasTag(t) {
				return true
			}
		}
		return false
	}
	return true
}

// DiscoverParams is rpc.discover's parameter struct.
type DiscoverParams struct {
	Meta                `json:"_meta,omitempty"`
	Filter              *DiscoverFilter `json:"filter,omitempty"`
	IncludeSchemas      bool            `json:"include_schemas,omitempty"`
	IncludeCapabilities *bool           `json:"include_capabilities,omitempty"`
}

func (x *DiscoverParams) isParams()              {}
func (x *DiscoverParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *DiscoverParams) SetProgressToken(t any) { setProgressToken(x, t) }

// MethodInfo is the projection of a methodDescriptor returned in a
// DiscoverResult.
type MethodInfo struct {
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	MethodType       methodKind      `json:"method_type"`
	Direction        methodDirection `json:"direction"`
	SupportsProgress bool            `json:"supports_progress"`
	SupportsCancel   bool            `json:"supports_cancellation"`
	Tags             []string        `json:"tags,omitempty"`
}

// DiscoverResult is rpc.discover's result struct.
type DiscoverResult struct {
	Meta            `json:"_meta,omitempty"`
	ProtocolVersion string                    `json:"protocol_version"`
	Methods         map[string][]*MethodInfo  `json:"methods"`
	Capabilities    map[string]any            `json:"capabilities,omitempty"`
}

func (*DiscoverResult) isResult() {}

// discover answers rpc.discover for a protocol version and an optional
// set of negotiated capabilities (nil before a session reaches Ready).
func discover(protocolVersion string, caps map[string]any, params *DiscoverParams) *DiscoverResult {
	filter := params.Filter
	if filter == nil {
		filter = &DiscoverFilter{Preset: "all"}
	}
	includeCaps := true
	if params.IncludeCapabilities != nil {
		includeCaps = *params.IncludeCapabilities
	}

	res := &DiscoverResult{
		ProtocolVersion: protocolVersion,
		Methods:         make(map[string][]*MethodInfo),
	}
	for _, d := range methodRegistry {
		if !filter.matches(d) {
			continue
		}
		mi := &MethodInfo{
			Name:             d.Name,
			Description:      d.Description,
			MethodType:       d.Type,
			Direction:        d.Direction,
			SupportsProgress: d.SupportsProgress,
			SupportsCancel:   d.SupportsCancel,
			Tags:             d.Tags,
		}
		cat := d.category()
		res.Methods[cat] = append(res.Methods[cat], mi)
	}
	if includeCaps {
		res.Capabilities = caps
	}
	return res
}

// registerDiscover installs the rpc.discover handler. capsFn is called at
// request time so that a just-negotiated capability set (only known after
// initialize) is reflected, rather than one captured at registration time.
func registerDiscover(h *jsonrpc2.HandlerMap, protocolVersionFn func() string, capsFn func() map[string]any) {
	h.HandleRequest(methodDiscover, func(ctx context.Context, conn *jsonrpc2.Conn, ireq *jsonrpc2.IncomingRequest) (any, error) {
		params := &DiscoverParams{}
		if len(ireq.Params) > 0 {
			if err := internaljson.Unmarshal(ireq.Params, params); err != nil {
				return nil, jsonrpc.NewStandardError(jsonrpc.CodeInvalidParams, err.Error(), nil)
			}
		}
		return discover(protocolVersionFn(), capsFn(), params), nil
	})
}
