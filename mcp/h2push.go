// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// This file implements the HTTP/2 push-promise side of the multiplexed
// streaming strategy chosen by content_analyzer.go: a prefix-keyed registry
// of "when a client fetches path P, also push these related resources"
// rules, applied via the standard library's http.Pusher on connections
// HTTP/2 is actually negotiated over (golang.org/x/net/http2 is used only to
// turn push on for a plain *http.Server).

package mcp

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/http2"
)

// maxPushesPerRequest bounds how many associated resources one request can
// trigger a push for. http.Pusher gives no way to send a raw RST_STREAM, so
// this registry approximates spec §4.3.1's "bounded push-cache buffer,
// RST_STREAM on overflow" by simply refusing pushes past the bound instead
// of letting an unbounded handler flood the connection.
const maxPushesPerRequest = 4

// PushRule computes the set of paths related to requestPath that should be
// proactively pushed alongside it (e.g. a tool's referenced resource blobs).
type PushRule func(requestPath string) []string

// PushRegistry maps URL path prefixes to PushRules, matched by longest
// prefix, and applies the winning rule via HTTP/2 server push.
type PushRegistry struct {
	mu    sync.RWMutex
	rules map[string]PushRule
}

// NewPushRegistry returns an empty registry; use Register to add rules.
func NewPushRegistry() *PushRegistry {
	return &PushRegistry{rules: make(map[string]PushRule)}
}

// Register associates prefix with rule. A later call with the same prefix
// replaces the earlier rule.
func (p *PushRegistry) Register(prefix string, rule PushRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[prefix] = rule
}

// ConfigureServer enables HTTP/2 (and therefore server push) on srv. Callers
// that already run behind a reverse proxy terminating HTTP/2 do not need
// this; it exists for the common case of an *http.Server used directly.
func ConfigureServer(srv *http.Server) error {
	return http2.ConfigureServer(srv, &http2.Server{})
}

// matchLongestPrefix returns the rule registered for the longest prefix of
// requestPath, or nil if none match.
func (p *PushRegistry) matchLongestPrefix(requestPath string) PushRule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var (
		best       string
		bestRule   PushRule
		prefixKeys = make([]string, 0, len(p.rules))
	)
	for prefix := range p.rules {
		prefixKeys = append(prefixKeys, prefix)
	}
	sort.Slice(prefixKeys, func(i, j int) bool { return len(prefixKeys[i]) > len(prefixKeys[j]) })
	for _, prefix := range prefixKeys {
		if strings.HasPrefix(requestPath, prefix) && len(prefix) > len(best) {
			best = prefix
			bestRule = p.rules[prefix]
		}
	}
	return bestRule
}

// TryPush applies the matching rule (if any) for requestPath over w,
// returning how many pushes were actually issued. It is a no-op — not an
// error — when w's connection doesn't support push (HTTP/1.x, or an HTTP/2
// client that disabled push).
func (p *PushRegistry) TryPush(w http.ResponseWriter, requestPath string) int {
	rule := p.matchLongestPrefix(requestPath)
	if rule == nil {
		return 0
	}
	pusher, ok := w.(http.Pusher)
	if !ok {
		return 0
	}
	pushed := 0
	for _, target := range rule(requestPath) {
		if pushed >= maxPushesPerRequest {
			break
		}
		if err := pusher.Push(target, nil); err != nil {
			// A push error (stream refused, client disabled push mid-flight)
			// ends this request's pushes rather than retrying; the resource
			// is still reachable by a direct request.
			break
		}
		pushed++
	}
	return pushed
}

// ---- client side ---------------------------------------------------------

// PushPromise is the client-side view of one HTTP/2 server push: the
// promised request path, its headers, the promised and parent stream ids,
// and the buffered response payload assembled from the pushed DATA frames.
type PushPromise struct {
	Path     string
	Headers  http.Header
	StreamID uint32
	ParentID uint32
	Payload  []byte
}

// PushHandler consumes one assembled PushPromise. Handlers run
// synchronously inside ClientPushCache.Offer, on the caller's goroutine,
// and must not block, per spec.md §4.3.1 rule 4.
type PushHandler func(*PushPromise)

// ClientPushCache implements spec.md §4.3.1's client-side push contract:
// validate a promised path against registered handler prefixes, bound the
// bytes buffered for pushed streams by a configured cache size, and
// dispatch accepted promises to their matching handler.
//
// Go's net/http2 client Transport advertises SETTINGS_ENABLE_PUSH=0 on
// every connection and exposes no public hook for consuming PUSH_PROMISE
// frames (see DESIGN.md for the upstream gap), so nothing in this package
// feeds ClientPushCache live frames today. It exists as the
// validation/bookkeeping core that a frame source — a vendored or
// hand-rolled HTTP/2 client reader — can call directly; StreamableClientTransport
// exposes a Push field so a caller wiring in such a reader has somewhere to
// plug it in without further changes here.
type ClientPushCache struct {
	mu       sync.Mutex
	handlers map[string]PushHandler
	validate bool
	maxBytes int64
	used     int64
}

// NewClientPushCache returns a cache bounding buffered push payloads to
// maxBytes (zero means a reasonable default of 1 MiB). If validate is set,
// Offer rejects promised paths that match no registered handler.
func NewClientPushCache(maxBytes int64, validate bool) *ClientPushCache {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &ClientPushCache{
		handlers: make(map[string]PushHandler),
		validate: validate,
		maxBytes: maxBytes,
	}
}

// Register associates prefix with handler, matched by longest prefix
// against a promise's path (mirroring PushRegistry on the server side).
func (c *ClientPushCache) Register(prefix string, handler PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[prefix] = handler
}

// matchLongestPrefix finds the handler registered for the longest prefix of
// path, or nil if none match.
func (c *ClientPushCache) matchLongestPrefix(path string) PushHandler {
	var best string
	var bestHandler PushHandler
	for prefix, h := range c.handlers {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, bestHandler = prefix, h
		}
	}
	return bestHandler
}

// Offer presents one pushed stream to the cache. It validates the promised
// path (rejecting an unmatched path when validate is set, the caller's cue
// to RST_STREAM the live stream with CANCEL), bounds total buffered bytes
// by maxBytes (rejecting — and the caller should cancel and drop — once
// exceeded), and otherwise invokes the matching handler, if any, with p.
// Offer reports whether the promise was accepted.
func (c *ClientPushCache) Offer(p *PushPromise) (bool, error) {
	c.mu.Lock()
	handler := c.matchLongestPrefix(p.Path)
	if c.validate && handler == nil {
		c.mu.Unlock()
		return false, fmt.Errorf("mcp: push promise for %q matches no registered handler", p.Path)
	}
	if c.used+int64(len(p.Payload)) > c.maxBytes {
		c.mu.Unlock()
		return false, fmt.Errorf("mcp: push promise for %q exceeds push cache size %d", p.Path, c.maxBytes)
	}
	c.used += int64(len(p.Payload))
	c.mu.Unlock()

	if handler != nil {
		handler(p)
	}
	return true, nil
}

// Release returns n buffered bytes to the cache's budget once a previously
// accepted push promise's payload is no longer retained.
func (c *ClientPushCache) Release(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used -= n
	if c.used < 0 {
		c.used = 0
	}
}
