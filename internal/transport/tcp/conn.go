// Package tcp provides the framed TCP transport for the chat protocol.
package tcp

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/omochice/wirechat/internal/frame"
)

// Conn adapts net.Conn to chat.Conn, applying length-prefixed framing in
// both directions.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, r: bufio.NewReader(conn)}
}

// Read implements chat.Conn. Reads exactly one frame's payload. A deadline
// on ctx becomes the socket's read deadline for this call.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return frame.ReadFrame(c.r)
}

// Write implements chat.Conn. Writes exactly one frame. A deadline on ctx
// becomes the socket's write deadline for this call.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return frame.WriteFrame(c.conn, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
