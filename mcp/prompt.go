// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"fmt"

	"github.com/mcpcore/sdk-go/jsonrpc"
)

// A PromptHandler resolves a prompts/get request, filling in the prompt's
// arguments and returning the resulting messages.
type PromptHandler func(context.Context, *GetPromptRequest) (*GetPromptResult, error)

// A ServerPrompt pairs a Prompt definition with the handler that resolves
// it.
type ServerPrompt struct {
	Prompt  *Prompt
	Handler PromptHandler
}

// PromptNotFoundError returns an error suitable for returning when a
// prompts/get request names an unregistered prompt.
func PromptNotFoundError(name string) error {
	return jsonrpc.NewStandardError(jsonrpc.CodePromptNotFound, fmt.Sprintf("prompt %q not found", name), nil)
}

// AddPrompt registers a prompt and its handler with the server.
func AddPrompt(s *Server, p *Prompt, h PromptHandler) {
	s.addPrompt(&ServerPrompt{Prompt: p, Handler: h})
}

func (s *Server) addPrompt(sp *ServerPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[sp.Prompt.Name] = sp
}

func (s *Server) resolvePrompt(name string) (PromptHandler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[name]
	if !ok {
		return nil, PromptNotFoundError(name)
	}
	return p.Handler, nil
}
