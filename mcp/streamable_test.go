// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEventIDRoundTrip(t *testing.T) {
	id := formatEventID("stream-7", 42)
	streamID, seq, ok := parseEventID(id)
	if !ok {
		t.Fatalf("parseEventID(%q) failed to parse", id)
	}
	if streamID != "stream-7" || seq != 42 {
		t.Errorf("parseEventID(%q) = (%q, %d), want (%q, %d)", id, streamID, seq, "stream-7", 42)
	}
	if _, _, ok := parseEventID("not-an-event-id"); ok {
		t.Error("parseEventID accepted an id with no underscore-separated sequence")
	}
}

func TestSSEEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := sseEvent{id: "s_3", name: "message", data: []byte(`{"jsonrpc":"2.0","id":3,"result":{}}`)}
	if err := writeSSEEvent(&buf, want); err != nil {
		t.Fatalf("writeSSEEvent() error = %v", err)
	}
	got, err := scanSSEEvents(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("scanSSEEvents() error = %v", err)
	}
	if got.id != want.id || got.name != want.name || string(got.data) != string(want.data) {
		t.Errorf("scanSSEEvents() = %+v, want %+v", got, want)
	}
}

func TestSSEEventRoundTripMultilineData(t *testing.T) {
	var buf bytes.Buffer
	want := sseEvent{id: "s_1", data: []byte("line one\nline two")}
	if err := writeSSEEvent(&buf, want); err != nil {
		t.Fatalf("writeSSEEvent() error = %v", err)
	}
	got, err := scanSSEEvents(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("scanSSEEvents() error = %v", err)
	}
	if string(got.data) != string(want.data) {
		t.Errorf("scanSSEEvents() data = %q, want %q", got.data, want.data)
	}
}

func TestEventLogReplayAfter(t *testing.T) {
	log := newEventLog("s", 4)
	for i := 0; i < 3; i++ {
		log.append([]byte("payload"))
	}
	replay := log.replayAfter(0)
	if len(replay) != 2 {
		t.Fatalf("replayAfter(0) returned %d events, want 2", len(replay))
	}
	if len(log.replayAfter(-1)) != 3 {
		t.Errorf("replayAfter(-1) should return every buffered event")
	}
}

func TestEventLogBoundedCapacity(t *testing.T) {
	log := newEventLog("s", 2)
	for i := 0; i < 5; i++ {
		log.append([]byte("payload"))
	}
	if len(log.entries) != 2 {
		t.Errorf("event log grew to %d entries, want bounded to 2", len(log.entries))
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))
	for _, enc := range []string{"gzip", "br", "zstd"} {
		compressed, err := compressPayload(payload, enc)
		if err != nil {
			t.Fatalf("compressPayload(%q) error = %v", enc, err)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("compressPayload(%q) did not shrink a highly repetitive payload", enc)
		}
		reader, err := decompressBody(bytes.NewReader(compressed), enc)
		if err != nil {
			t.Fatalf("decompressBody(%q) error = %v", enc, err)
		}
		var out bytes.Buffer
		if _, err := out.ReadFrom(reader); err != nil {
			t.Fatalf("reading decompressed %q body: %v", enc, err)
		}
		if !bytes.Equal(out.Bytes(), payload) {
			t.Errorf("decompressBody(%q) did not round-trip the original payload", enc)
		}
	}
}

func TestNegotiateEncodingPrefersBrotli(t *testing.T) {
	if got := negotiateEncoding("gzip, br, zstd"); got != "br" {
		t.Errorf("negotiateEncoding() = %q, want %q", got, "br")
	}
	if got := negotiateEncoding("gzip"); got != "gzip" {
		t.Errorf("negotiateEncoding() = %q, want %q", got, "gzip")
	}
	if got := negotiateEncoding(""); got != "" {
		t.Errorf("negotiateEncoding(\"\") = %q, want empty", got)
	}
}

func TestStreamableHTTPRoundTrip(t *testing.T) {
	server := NewServer(&Implementation{Name: "streamable-test-server", Version: "1.0.0"}, nil)
	handler := NewStreamableServerTransport(server, nil)
	httpSrv := httptest.NewServer(handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := &StreamableClientTransport{URL: httpSrv.URL}
	client := NewClient(&Implementation{Name: "streamable-test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cs.Close()

	if err := cs.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
