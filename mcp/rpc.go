// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file holds the generic request/parameter scaffolding shared by every
// method in the catalog: the Params/Result marker interfaces, the Meta bag
// embedded in every params/result struct, and the ServerRequest/ClientRequest
// generic carriers handlers receive.

package mcp

import (
	"context"

	"github.com/mcpcore/sdk-go/internal/jsonrpc2"
)

// Connection is the framed-message transport a session drives. It is the
// mcp-level name for the dispatcher's transport contract; see
// [internal/jsonrpc2.Connection].
type Connection = jsonrpc2.Connection

// Transport is anything that can produce a Connection: an in-memory pipe, a
// child process's stdio, a WebSocket dial, or a streaming HTTP round trip.
type Transport interface {
	Connect(ctx context.Context) (Connection, error)
}

// Meta is the `_meta` bag every params and result struct embeds. It carries
// out-of-band metadata, notably the progress token, without requiring each
// struct to redeclare the field and its (un)marshalling.
type Meta map[string]any

// GetMeta returns the metadata map, which may be nil.
func (m Meta) GetMeta() map[string]any { return m }

// SetMeta replaces the metadata map.
func (m *Meta) SetMeta(v map[string]any) { *m = Meta(v) }

const progressTokenKey = "progressToken"

// metaHolder is satisfied by every embedder of Meta.
type metaHolder interface {
	GetMeta() map[string]any
	SetMeta(map[string]any)
}

func getProgressToken(p metaHolder) any {
	return p.GetMeta()[progressTokenKey]
}

func setProgressToken(p metaHolder, t any) {
	m := p.GetMeta()
	if m == nil {
		m = make(map[string]any)
	}
	m[progressTokenKey] = t
	p.SetMeta(m)
}

// Params is implemented by every method's parameter struct. GetProgressToken
// and SetProgressToken expose the `_meta.progressToken` field generically,
// per spec's "opaque value embedded in a request's _meta.progressToken".
type Params interface {
	isParams()
	GetProgressToken() any
	SetProgressToken(any)
}

// Result is implemented by every method's result struct.
type Result interface {
	isResult()
}

// ServerRequest wraps a request or notification flowing client-to-server:
// the session that received it, and its typed parameters. Handlers
// registered on a *Server receive a *ServerRequest[P] for their method.
type ServerRequest[P Params] struct {
	Session *ServerSession
	Params  P
}

func newServerRequest[P Params](s *ServerSession, p P) *ServerRequest[P] {
	return &ServerRequest[P]{Session: s, Params: p}
}

// ClientRequest wraps a request or notification flowing server-to-client:
// sampling, elicitation, roots, logging, progress. Handlers registered on a
// *Client receive a *ClientRequest[P] for their method.
type ClientRequest[P Params] struct {
	Session *ClientSession
	Params  P
}

func newClientRequest[P Params](s *ClientSession, p P) *ClientRequest[P] {
	return &ClientRequest[P]{Session: s, Params: p}
}
