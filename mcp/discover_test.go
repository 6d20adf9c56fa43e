// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"testing"

	internaljson "github.com/mcpcore/sdk-go/internal/json"
)

func TestDiscoverFilterUnmarshalBareString(t *testing.T) {
	// The canonical wire example from the spec: rpc.discover{filter:"notifications"}.
	var f DiscoverFilter
	if err := internaljson.Unmarshal([]byte(`"notifications"`), &f); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if f.Preset != "notifications" {
		t.Errorf("Preset = %q, want %q", f.Preset, "notifications")
	}
	if f.Category != "" || f.Tags != nil {
		t.Errorf("Category/Tags should be empty, got %q/%v", f.Category, f.Tags)
	}
}

func TestDiscoverFilterUnmarshalObject(t *testing.T) {
	tests := []struct {
		name string
		json string
		want DiscoverFilter
	}{
		{
			name: "preset object",
			json: `{"preset":"server"}`,
			want: DiscoverFilter{Preset: "server"},
		},
		{
			name: "category object",
			json: `{"category":"tools"}`,
			want: DiscoverFilter{Category: "tools"},
		},
		{
			name: "tags object",
			json: `{"tags":["handshake","tools"]}`,
			want: DiscoverFilter{Tags: []string{"handshake", "tools"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got DiscoverFilter
			if err := internaljson.Unmarshal([]byte(tt.json), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.Preset != tt.want.Preset || got.Category != tt.want.Category {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if len(got.Tags) != len(tt.want.Tags) {
				t.Errorf("Tags = %v, want %v", got.Tags, tt.want.Tags)
			}
		})
	}
}

func TestDiscoverParamsUnmarshalBareStringFilter(t *testing.T) {
	var params DiscoverParams
	if err := internaljson.Unmarshal([]byte(`{"filter":"notifications"}`), &params); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if params.Filter == nil || params.Filter.Preset != "notifications" {
		t.Fatalf("Filter = %+v, want Preset=notifications", params.Filter)
	}

	res := discover("2025-06-18", nil, &params)
	for _, methods := range res.Methods {
		for _, m := range methods {
			if m.MethodType != kindNotification {
				t.Errorf("method %q: type = %v, want notification (filter was %q)", m.Name, m.MethodType, "notifications")
			}
		}
	}
}

func TestDiscoverDefaultFilterIncludesEverything(t *testing.T) {
	res := discover("2025-06-18", nil, &DiscoverParams{})
	got := 0
	for _, methods := range res.Methods {
		got += len(methods)
	}
	if got != len(methodRegistry) {
		t.Fatalf("discover() with nil filter returned %d methods, want the full registry (%d)", got, len(methodRegistry))
	}
}
