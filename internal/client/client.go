// Package client provides the interactive session a client program drives.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/wirechat/internal/chat"
	"github.com/omochice/wirechat/internal/transport/tcp"
	"github.com/omochice/wirechat/pkg/protocol"
)

// CloseReason distinguishes why a session ended.
type CloseReason int

const (
	// ReasonNone means the session is still open or was closed locally.
	ReasonNone CloseReason = iota
	// ReasonConnectionLost means the transport dropped without a protocol
	// level goodbye.
	ReasonConnectionLost
	// ReasonServerDisconnect means the server sent an explicit Disconnect
	// addressed to this client.
	ReasonServerDisconnect
)

// String returns the string representation of CloseReason.
func (r CloseReason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonConnectionLost:
		return "CONNECTION_LOST"
	case ReasonServerDisconnect:
		return "SERVER_DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrClosed is returned by Send after the session has closed.
	ErrClosed = errors.New("client: session closed")

	errHandshake = errors.New("client: handshake rejected")
)

// Session is one client connection. Sending and receiving are independent:
// Send never waits for an inbound message, and inbound messages are
// delivered on their own channel regardless of local activity.
type Session struct {
	name string
	conn chat.Conn
	log  zerolog.Logger

	messages chan protocol.Operation

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	reason CloseReason

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a server, performs the handshake, and starts the receive
// loop. name is the identity announced in the Connect operation.
func Dial(ctx context.Context, addr, name string, log zerolog.Logger) (*Session, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}

	s := &Session{
		name:     name,
		conn:     tcp.NewConn(raw),
		log:      log,
		messages: make(chan protocol.Operation, 16),
		done:     make(chan struct{}),
	}

	// The transport bounds each handshake read and write by ctx's deadline;
	// the watcher covers plain cancellation by closing the socket.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			raw.Close()
		case <-watchDone:
		}
	}()
	err = s.handshake(ctx)
	close(watchDone)
	if err == nil && ctx.Err() != nil {
		// The watcher may have closed the socket at the same moment the
		// handshake finished.
		err = errHandshake
	}
	if err != nil {
		raw.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("client: handshake: %w", ctxErr)
		}
		return nil, err
	}

	s.wg.Add(1)
	go s.receiveLoop()
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	if err := s.write(ctx, protocol.Connect{ClientID: s.name}); err != nil {
		return err
	}

	payload, err := s.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("client: handshake read: %w", err)
	}
	op, err := protocol.Decode(payload)
	if err != nil {
		return fmt.Errorf("client: handshake decode: %w", err)
	}
	if _, ok := op.(protocol.Ack); !ok {
		return fmt.Errorf("%w: got %T", errHandshake, op)
	}
	return nil
}

// Send transmits one operation. It never blocks on inbound traffic.
func (s *Session) Send(op protocol.Operation) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	return s.write(context.Background(), op)
}

// SendText is a convenience wrapper for the common case.
func (s *Session) SendText(body string) error {
	return s.Send(protocol.SendText{Body: body})
}

// Messages returns the inbound operation channel. It is closed exactly once
// when the connection has fully closed; receives after that keep returning
// immediately with ok == false, so callers can loop safely.
func (s *Session) Messages() <-chan protocol.Operation {
	return s.messages
}

// Recv blocks for the next inbound operation. ok is false once the session
// is closed, on every subsequent call too.
func (s *Session) Recv() (op protocol.Operation, ok bool) {
	op, ok = <-s.messages
	return op, ok
}

// Reason reports why the session ended. Meaningful once Messages is closed.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Close announces departure, closes the connection, and waits for the
// receive loop to finish.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		// Best effort goodbye; the server also handles an abrupt close.
		_ = s.write(context.Background(), protocol.Disconnect{ClientID: s.name})
		close(s.done)
		_ = s.conn.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Session) write(ctx context.Context, op protocol.Operation) error {
	data, err := protocol.Encode(op)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.messages)

	ctx := context.Background()
	for {
		payload, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Locally initiated close, not a lost connection.
				s.endWith(ReasonNone)
			default:
				s.endWith(ReasonConnectionLost)
			}
			return
		}

		op, err := protocol.Decode(payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping undecodable message")
			continue
		}

		// Display names are unique per server, so a Disconnect naming this
		// client can only be the server closing it down. Any other
		// Disconnect is a peer's leave notification to surface.
		if d, ok := op.(protocol.Disconnect); ok && d.ClientID == s.name {
			s.endWith(ReasonServerDisconnect)
			_ = s.conn.Close()
			return
		}

		select {
		case s.messages <- op:
		case <-s.done:
			s.endWith(ReasonNone)
			return
		}
	}
}

func (s *Session) endWith(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
}
