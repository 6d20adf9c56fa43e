// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
)

// A ToolHandler handles a call to tools/call.
// args will contain a value that has been validated against the input schema.
type ToolHandler func(ctx context.Context, req *CallToolRequest, args any) (*CallToolResult, error)

type rawToolHandler func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)

// A serverTool is a tool definition that is bound to a tool handler.
type serverTool struct {
	tool    *Tool
	handler rawToolHandler
	// Resolved tool schemas. Set in newServerTool.
	inputResolved, outputResolved *jsonschema.Resolved
}

// A TypedToolHandler handles a call to tools/call with typed arguments and results.
type TypedToolHandler[In, Out any] func(context.Context, *CallToolRequest, In) (*CallToolResult, Out, error)

// toolArgsValidator backs the map[string]any argument path used by
// AddToolFunc tools, whose schema (and so Go shape) is only known at
// runtime. It is stateless beyond its internal type cache, so one instance
// is shared across every such tool.
var toolArgsValidator = NewReflectionValidator()

func newServerTool(t *Tool, h ToolHandler, cache *schemaCache) (*serverTool, error) {
	st := &serverTool{tool: t}
	if t.newArgs == nil {
		t.newArgs = func() any { return &map[string]any{} }
	}
	if t.InputSchema == nil {
		// This prevents the tool author from forgetting to write a schema where
		// one should be provided. If we papered over this by supplying the empty
		// schema, then every input would be validated and the problem wouldn't be
		// discovered until runtime, when the LLM sent bad data.
		return nil, errors.New("missing input schema")
	}
	if cache != nil {
		if resolved, ok := cache.getBySchema(t.InputSchema); ok {
			st.inputResolved = resolved
		}
		if t.OutputSchema != nil {
			if resolved, ok := cache.getBySchema(t.OutputSchema); ok {
				st.outputResolved = resolved
			}
		}
	}
	var err error
	if st.inputResolved == nil {
		st.inputResolved, err = t.InputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("input schema: %w", err)
		}
		if cache != nil {
			cache.setBySchema(t.InputSchema, st.inputResolved)
		}
	}
	if t.OutputSchema != nil && st.outputResolved == nil {
		st.outputResolved, err = t.OutputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("output schema: %w", err)
		}
		if cache != nil {
			cache.setBySchema(t.OutputSchema, st.outputResolved)
		}
	}
	// Ignore output schema.
	st.handler = func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		rawArgs := req.Params.Arguments
		args := t.newArgs()
		if m, ok := args.(*map[string]any); ok {
			// No Go type to decode into (the AddToolFunc / config-driven-schema
			// case): validate by building a reflection-derived struct type from
			// the schema itself, rather than trusting a bare map[string]any
			// unmarshal to catch type mismatches.
			validated, err := toolArgsValidator.ValidateAndApply(rawArgs, st.inputResolved)
			if err != nil {
				return nil, err
			}
			if len(validated) > 0 {
				if err := json.Unmarshal(validated, m); err != nil {
					return nil, fmt.Errorf("unmarshaling validated args: %w", err)
				}
			}
		} else if err := unmarshalSchema(rawArgs, st.inputResolved, args); err != nil {
			return nil, err
		}
		res, err := h(ctx, req, args)
		// TODO(rfindley): investigate why server errors are embedded in this strange way,
		// rather than returned as jsonrpc2 server errors.
		if err != nil {
			return &CallToolResult{
				Content: []Content{&TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		// TODO(jba): if t.OutputSchema != nil, check that StructuredContent is present and validates.
		return res, nil
	}
	return st, nil
}

// newTypedServerTool creates a serverTool from a tool and a handler.
// If the tool doesn't have an input schema, it is inferred from In.
// If the tool doesn't have an output schema and Out != any, it is inferred from Out.
func newTypedServerTool[In, Out any](t *Tool, h TypedToolHandler[In, Out], cache *schemaCache) (*serverTool, error) {
	assert(t.newArgs == nil, "newArgs already set")
	t.newArgs = func() any { var x In; return &x }

	var err error
	var inResolved, outResolved *jsonschema.Resolved
	inType := reflect.TypeFor[In]()
	if t.InputSchema == nil && cache != nil {
		t.InputSchema, inResolved, _ = cache.getByType(inType)
	}
	if t.InputSchema == nil {
		t.InputSchema, err = jsonschema.For[In](nil)
		if err != nil {
			return nil, err
		}
	}
	outType := reflect.TypeFor[Out]()
	if outType != reflect.TypeFor[any]() {
		if t.OutputSchema == nil && cache != nil {
			t.OutputSchema, outResolved, _ = cache.getByType(outType)
		}
		if t.OutputSchema == nil {
			t.OutputSchema, err = jsonschema.For[Out](nil)
			if err != nil {
				return nil, err
			}
		}
	}

	toolHandler := func(ctx context.Context, req *CallToolRequest, args any) (*CallToolResult, error) {
		res, out, err := h(ctx, req, *args.(*In))
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &CallToolResult{}
		}
		// TODO: return the serialized JSON in a TextContent block, as per spec?
		// https://modelcontextprotocol.io/specification/2025-06-18/server/tools#structured-content
		res.StructuredContent = out
		return res, nil
	}
	st, err := newServerTool(t, toolHandler, cache)
	if err != nil {
		return nil, err
	}
	if inResolved != nil {
		st.inputResolved = inResolved
	}
	if outResolved != nil {
		st.outputResolved = outResolved
	}
	if cache != nil {
		if inResolved == nil {
			cache.setByType(inType, t.InputSchema, st.inputResolved)
		}
		if outResolved == nil && t.OutputSchema != nil {
			cache.setByType(outType, t.OutputSchema, st.outputResolved)
		}
	}
	return st, nil
}

// unmarshalSchema unmarshals data into v and validates the result according to
// the given resolved schema.
func unmarshalSchema(data json.RawMessage, resolved *jsonschema.Resolved, v any) error {
	// TODO: use reflection to create the struct type to unmarshal into.
	// Separate validation from assignment.

	// Disallow unknown fields.
	// Otherwise, if the tool was built with a struct, the client could send extra
	// fields and json.Unmarshal would ignore them, so the schema would never get
	// a chance to declare the extra args invalid.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("unmarshaling: %w", err)
	}

	// TODO: test with nil args.
	if resolved != nil {
		if err := resolved.ApplyDefaults(v); err != nil {
			return fmt.Errorf("applying defaults from \n\t%s\nto\n\t%s:\n%w", schemaJSON(resolved.Schema()), data, err)
		}
		if err := resolved.Validate(v); err != nil {
			return fmt.Errorf("validating\n\t%s\nagainst\n\t %s:\n %w", data, schemaJSON(resolved.Schema()), err)
		}
	}
	return nil
}

// schemaJSON returns the JSON value for s as a string, or a string indicating an error.
func schemaJSON(s *jsonschema.Schema) string {
	m, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("<!%s>", err)
	}
	return string(m)
}

// AddTool adds a tool and its handler to the server, inferring In's schema
// as the tool's input schema (and Out's, if Out is not the empty interface,
// as its output schema) when the caller hasn't already set one on t.
//
// The handler receives arguments already unmarshaled into In and validated
// against the resolved input schema; a validation failure never reaches h.
//
// AddTool panics if t's schema cannot be resolved, since that reflects a
// programming error in the tool definition rather than a runtime condition.
func AddTool[In, Out any](s *Server, t *Tool, h TypedToolHandler[In, Out]) {
	st, err := newTypedServerTool(t, h, s.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("AddTool %q: %v", t.Name, err))
	}
	s.addTool(st)
}

// AddToolFunc adds a tool whose handler receives raw, already-schema-resolved
// JSON arguments rather than a typed Go value. Most callers want [AddTool]
// instead; AddToolFunc exists for tools whose argument shape is only known
// at runtime (for instance a schema read from configuration).
func AddToolFunc(s *Server, t *Tool, h ToolHandler) {
	st, err := newServerTool(t, h, s.opts.SchemaCache)
	if err != nil {
		panic(fmt.Sprintf("AddToolFunc %q: %v", t.Name, err))
	}
	s.addTool(st)
}
