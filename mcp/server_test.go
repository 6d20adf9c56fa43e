// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"testing"
	"time"
)

// TestServerRejectsDuplicateInitialize verifies that a second initialize
// request on an already-initialized session is rejected rather than
// silently re-negotiating the protocol version and capabilities.
func TestServerRejectsDuplicateInitialize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := NewServer(&Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	clientT, serverT := NewInMemoryTransports()

	ssCh := make(chan *ServerSession, 1)
	go func() {
		ss, err := server.Connect(ctx, serverT, nil)
		if err == nil {
			ssCh <- ss
		} else {
			close(ssCh)
		}
	}()

	client := NewClient(&Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cs.Close()

	// The handshake already completed as part of Connect. Send a second
	// initialize over the same connection and confirm the server rejects
	// it instead of re-negotiating.
	params := &InitializeParams{
		ProtocolVersion: latestProtocolVersion,
		ClientInfo:      client.impl,
		Capabilities:    client.opts.capabilities(),
	}
	_, err = call[InitializeResult](ctx, cs.conn, methodInitialize, params.toV2(), nil)
	if err == nil {
		t.Fatal("second initialize request succeeded, want an error")
	}

	ss := <-ssCh
	if ss != nil {
		ss.Close()
	}
}
