// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mcpcore/sdk-go/jsonrpc"
)

// NewInMemoryTransports returns a pair of connected in-process transports,
// useful for testing a client and server against each other without a real
// subprocess or network round trip.
func NewInMemoryTransports() (client, server Transport) {
	c2s := make(chan jsonrpc.Message, 16)
	s2c := make(chan jsonrpc.Message, 16)
	closed := make(chan struct{})
	var closeOnce sync.Once
	closeFn := func() { closeOnce.Do(func() { close(closed) }) }

	client = &inMemoryTransport{
		conn: &channelConn{write: c2s, read: s2c, closed: closed, closeFn: closeFn},
	}
	server = &inMemoryTransport{
		conn: &channelConn{write: s2c, read: c2s, closed: closed, closeFn: closeFn},
	}
	return client, server
}

type inMemoryTransport struct {
	conn Connection
}

func (t *inMemoryTransport) Connect(ctx context.Context) (Connection, error) {
	return t.conn, nil
}

// channelConn is a Connection backed by a pair of Go channels, one per
// direction, shared by both ends of an in-memory transport pair.
type channelConn struct {
	write   chan<- jsonrpc.Message
	read    <-chan jsonrpc.Message
	closed  chan struct{}
	closeFn func()
}

func (c *channelConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg, ok := <-c.read:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *channelConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case c.write <- msg:
		return nil
	case <-c.closed:
		return errors.New("mcp: write on closed in-memory connection")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channelConn) Close() error {
	c.closeFn()
	return nil
}

// CommandTransport runs a subprocess and communicates with it over its
// stdin/stdout using newline-delimited JSON-RPC messages, one message per
// line, per the stdio transport described in the basic protocol's
// description of the standard I/O transport.
type CommandTransport struct {
	// Stdin is written to (requests out); Stdout is read from (responses
	// and notifications in). Callers typically set these to the Stdin/Stdout
	// pipes of an *os/exec.Cmd.
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Connect wraps the already-opened stdin/stdout pipes in a Connection. The
// subprocess itself must already be started by the caller.
func (t *CommandTransport) Connect(ctx context.Context) (Connection, error) {
	if t.Stdin == nil || t.Stdout == nil {
		return nil, fmt.Errorf("mcp: CommandTransport requires both Stdin and Stdout")
	}
	return &stdioConn{
		w:      t.Stdin,
		r:      bufio.NewReaderSize(t.Stdout, 1<<20),
		closer: t.Stdin,
	}, nil
}

// stdioConn implements Connection over a pair of newline-delimited JSON
// streams, as used by both CommandTransport (dialing a child process) and
// StdIOTransport (a server speaking on its own stdin/stdout).
type stdioConn struct {
	mu     sync.Mutex
	w      io.Writer
	r      *bufio.Reader
	closer io.Closer
}

func (c *stdioConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return nil, err
		}
		// Fall through: accept a final line with no trailing newline.
	}
	return jsonrpc.DecodeMessage([]byte(line))
}

func (c *stdioConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	_, err = c.w.Write([]byte("\n"))
	return err
}

func (c *stdioConn) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// StdIOTransport is a server-side Transport that speaks MCP over the
// process's own standard input and output, the arrangement used when an
// MCP server is launched as a client's subprocess.
type StdIOTransport struct {
	In  io.Reader
	Out io.Writer
}

// Connect wraps t.In/t.Out in a Connection. Both must be set (typically to
// os.Stdin and os.Stdout); Connect returns an error if either is nil.
func (t *StdIOTransport) Connect(ctx context.Context) (Connection, error) {
	in := t.In
	out := t.Out
	if in == nil || out == nil {
		return nil, fmt.Errorf("mcp: StdIOTransport requires both In and Out")
	}
	return &stdioConn{
		w: out,
		r: bufio.NewReaderSize(in, 1<<20),
	}, nil
}
