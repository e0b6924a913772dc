// Package ws provides the WebSocket transport for the chat protocol using
// gobwas/ws. WebSocket messages are already delimited, so codec payloads map
// 1:1 onto binary messages with no extra length prefix.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts an upgraded server-side WebSocket connection to chat.Conn.
type Conn struct {
	conn net.Conn
}

// NewConn wraps a net.Conn that has already completed the WebSocket
// handshake as a server.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements chat.Conn. Reads one binary message; a close frame from
// the peer is reported as io.EOF. A deadline on ctx becomes the socket's
// read deadline for this call.
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
	data, err := wsutil.ReadClientBinary(c.conn)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn. A deadline on ctx becomes the socket's write
// deadline for this call.
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
	return wsutil.WriteServerBinary(c.conn, data)
}

// Close implements chat.Conn. Sends a close frame best-effort before
// closing the socket.
func (c *Conn) Close() error {
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
