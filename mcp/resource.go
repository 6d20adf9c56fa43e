// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpcore/sdk-go/jsonrpc"
	"github.com/yosida95/uritemplate/v3"
)

// A ResourceHandler serves a single resources/read request, either for a
// fixed resource or for one that matched a ServerResourceTemplate.
type ResourceHandler func(context.Context, *ServerSession, *ReadResourceParams) (*ReadResourceResult, error)

// A ServerResource pairs a fixed-URI Resource with the handler that serves
// its contents.
type ServerResource struct {
	Resource *Resource
	Handler  ResourceHandler
}

// A ServerResourceTemplate pairs a resource template (an RFC 6570 URI
// template describing a family of resources) with the handler that serves
// any URI matching it.
type ServerResourceTemplate struct {
	ResourceTemplate *ResourceTemplate
	Handler          ResourceHandler

	// re matches a concrete URI against the template and extracts its
	// variables. Built from ResourceTemplate.URITemplate at registration
	// time.
	re *regexp.Regexp
}

// ResourceNotFoundError returns an error suitable for returning from a
// ResourceHandler (or from Server.resolveResource) when uri names no
// known resource.
func ResourceNotFoundError(uri string) error {
	return jsonrpc.NewStandardError(jsonrpc.CodeResourceNotFound, fmt.Sprintf("resource %q not found", uri), nil)
}

// newServerResourceTemplate validates tmpl.URITemplate (using
// github.com/yosida95/uritemplate/v3, which understands the full RFC 6570
// grammar) and compiles a matcher for it.
func newServerResourceTemplate(tmpl *ResourceTemplate, h ResourceHandler) (*ServerResourceTemplate, error) {
	ut, err := uritemplate.New(tmpl.URITemplate)
	if err != nil {
		return nil, fmt.Errorf("resource template %q: %w", tmpl.URITemplate, err)
	}
	re, err := uriTemplateToRegexp(tmpl.URITemplate, ut.Varnames())
	if err != nil {
		return nil, fmt.Errorf("resource template %q: %w", tmpl.URITemplate, err)
	}
	return &ServerResourceTemplate{ResourceTemplate: tmpl, Handler: h, re: re}, nil
}

// Matches reports whether uri matches the template.
func (srt *ServerResourceTemplate) Matches(uri string) bool {
	return srt.re.MatchString(uri)
}

// uriTemplateToRegexp converts an RFC 6570 level-1 URI template (the
// {var} form used by every resource template this SDK has seen in
// practice) to a regexp that matches concrete URIs produced from it. Variable
// names are taken from ut.Varnames() (already validated by
// github.com/yosida95/uritemplate/v3's parser) rather than re-parsed here, so
// this function only has to find the literal spans between them.
func uriTemplateToRegexp(tmpl string, varnames []string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	rest := tmpl
	for {
		i := strings.IndexByte(rest, '{')
		if i < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:i]))
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return nil, fmt.Errorf("unterminated variable in %q", tmpl)
		}
		b.WriteString(`[^/]+`)
		rest = rest[i+j+1:]
	}
	if len(varnames) == 0 {
		return nil, fmt.Errorf("no variables in template %q", tmpl)
	}
	return regexp.Compile(b.String())
}

// addResource registers a fixed-URI resource with the server.
func (s *Server) addResource(r *ServerResource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.Resource.URI] = r
}

// addResourceTemplate registers a resource template with the server.
func (s *Server) addResourceTemplate(rt *ServerResourceTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceTemplates = append(s.resourceTemplates, rt)
}

// AddResource adds a fixed-URI resource and its handler to the server.
func AddResource(s *Server, r *Resource, h ResourceHandler) {
	s.addResource(&ServerResource{Resource: r, Handler: h})
}

// AddResourceTemplate adds a resource template and its handler to the
// server. AddResourceTemplate panics if t.URITemplate is not a valid RFC
// 6570 template, since that is a programming error in the server's
// registration code rather than a runtime condition.
func AddResourceTemplate(s *Server, t *ResourceTemplate, h ResourceHandler) {
	srt, err := newServerResourceTemplate(t, h)
	if err != nil {
		panic(fmt.Sprintf("AddResourceTemplate %q: %v", t.URITemplate, err))
	}
	s.addResourceTemplate(srt)
}

// resolveResource finds the handler registered for uri: first an exact
// fixed-resource match, then the first matching template, in registration
// order.
func (s *Server) resolveResource(uri string) (ResourceHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[uri]; ok {
		return r.Handler, nil
	}
	for _, rt := range s.resourceTemplates {
		if rt.Matches(uri) {
			return rt.Handler, nil
		}
	}
	return nil, ResourceNotFoundError(uri)
}
