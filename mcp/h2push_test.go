// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"testing"
)

func TestClientPushCacheDispatchesToRegisteredHandler(t *testing.T) {
	cache := NewClientPushCache(0, false)
	var got *PushPromise
	cache.Register("/resources/", func(p *PushPromise) { got = p })

	promise := &PushPromise{Path: "/resources/42", Payload: []byte("hello")}
	accepted, err := cache.Offer(promise)
	if err != nil {
		t.Fatalf("Offer() error = %v", err)
	}
	if !accepted {
		t.Fatal("Offer() = false, want true")
	}
	if got != promise {
		t.Error("registered handler was not invoked with the offered promise")
	}
}

func TestClientPushCacheRejectsUnmatchedPathWhenValidating(t *testing.T) {
	cache := NewClientPushCache(0, true)
	cache.Register("/resources/", func(*PushPromise) {})

	accepted, err := cache.Offer(&PushPromise{Path: "/other/42"})
	if err == nil || accepted {
		t.Fatalf("Offer() = (%v, %v), want rejected with an error", accepted, err)
	}
}

func TestClientPushCacheAllowsUnmatchedPathWhenNotValidating(t *testing.T) {
	cache := NewClientPushCache(0, false)

	accepted, err := cache.Offer(&PushPromise{Path: "/other/42"})
	if err != nil || !accepted {
		t.Fatalf("Offer() = (%v, %v), want accepted with no error", accepted, err)
	}
}

func TestClientPushCacheBoundsBufferedBytes(t *testing.T) {
	cache := NewClientPushCache(10, false)

	if accepted, err := cache.Offer(&PushPromise{Path: "/a", Payload: make([]byte, 6)}); err != nil || !accepted {
		t.Fatalf("first Offer() = (%v, %v), want accepted", accepted, err)
	}
	accepted, err := cache.Offer(&PushPromise{Path: "/b", Payload: make([]byte, 6)})
	if err == nil || accepted {
		t.Fatalf("second Offer() = (%v, %v), want rejected for exceeding the cache size", accepted, err)
	}

	cache.Release(6)
	if accepted, err := cache.Offer(&PushPromise{Path: "/c", Payload: make([]byte, 6)}); err != nil || !accepted {
		t.Fatalf("Offer() after Release() = (%v, %v), want accepted", accepted, err)
	}
}
