package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omochice/wirechat/internal/chat"
	"github.com/omochice/wirechat/internal/frame"
	"github.com/omochice/wirechat/internal/store"
	"github.com/omochice/wirechat/pkg/protocol"
)

var (
	errSessionClosing = errors.New("server: connection closing")

	// ErrOutOfOrderHandshake marks a connection whose first operation was
	// not Connect, or that sent Connect twice. Fatal for the connection.
	ErrOutOfOrderHandshake = errors.New("server: handshake out of order")
)

// session is the per-connection task. It owns the socket exclusively: a
// reader goroutine pulls and dispatches frames while a writer goroutine
// drains the outbound queue, so neither side can stall the other.
type session struct {
	id   string
	name string
	srv  *Server
	conn chat.Conn
	peer *chat.Peer
	log  zerolog.Logger

	// state is only touched by the reader goroutine.
	state chat.State

	drain      chan struct{}
	drainOnce  sync.Once
	writerDone chan struct{}
}

// beginDrain tells the writer to flush what it can and stop. Safe to call
// more than once and from any goroutine.
func (s *session) beginDrain() {
	s.drainOnce.Do(func() { close(s.drain) })
}

func (s *session) run() {
	defer s.srv.wg.Done()
	defer s.srv.forgetSession(s.id)

	s.srv.registry.Register(s.peer)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		s.readLoop()
	}()
	go s.writeLoop()

	// Whichever half finishes first drives teardown: Closing, flush, close
	// the socket, then remove the id from the registry.
	select {
	case <-readerDone:
		s.srv.registry.BeginClose(s.id)
		s.beginDrain()
		<-s.writerDone
		_ = s.conn.Close()
	case <-s.writerDone:
		s.srv.registry.BeginClose(s.id)
		_ = s.conn.Close()
		<-readerDone
	}

	s.srv.registry.Unregister(s.id)
	s.log.Debug().Msg("connection closed")
}

func (s *session) readLoop() {
	ctx := context.Background()
	for {
		payload, err := s.conn.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.log.Debug().Msg("peer closed connection")
			case errors.Is(err, frame.ErrFrameTooLarge):
				s.log.Warn().Err(err).Msg("oversized frame, closing connection")
			case errors.Is(err, frame.ErrTruncatedFrame):
				s.log.Warn().Err(err).Msg("stream truncated mid-frame")
			default:
				// Includes the local close during teardown and shutdown.
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		op, err := protocol.Decode(payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("undecodable payload, closing connection")
			return
		}
		if !s.handle(op) {
			return
		}
	}
}

// handle dispatches one decoded operation. Returning false tears the
// connection down.
func (s *session) handle(op protocol.Operation) bool {
	if s.state == chat.StateConnecting {
		connect, ok := op.(protocol.Connect)
		if !ok {
			s.log.Warn().
				Err(ErrOutOfOrderHandshake).
				Str("op", fmt.Sprintf("%T", op)).
				Msg("operation before handshake, closing connection")
			return false
		}
		s.name = connect.ClientID
		s.log = s.log.With().Str("peer", s.name).Logger()

		// Names are unique per server. A rejected claimant gets a directed
		// Disconnect naming it, then the connection is torn down.
		if !s.srv.registry.ClaimName(s.id, s.name) {
			s.log.Warn().Msg("display name already taken, closing connection")
			_ = s.send(protocol.Disconnect{ClientID: s.name})
			return false
		}

		// Ack goes onto the queue before MarkOpen so it is the first frame
		// the client sees, ahead of any broadcast.
		if err := s.send(protocol.Ack{}); err != nil {
			return false
		}
		s.state = chat.StateOpen
		s.srv.registry.MarkOpen(s.id)
		s.broadcast(protocol.Connect{ClientID: s.name})
		s.log.Info().Msg("peer joined")
		return true
	}

	switch v := op.(type) {
	case protocol.Connect:
		s.log.Warn().Err(ErrOutOfOrderHandshake).Msg("duplicate handshake, closing connection")
		return false
	case protocol.SendText:
		s.saveMessage(v.Body)
		s.broadcast(protocol.Broadcast{From: s.name, Body: v.Body})
		return true
	case protocol.Disconnect:
		s.broadcast(protocol.Disconnect{ClientID: s.name})
		s.log.Info().Msg("peer left")
		return false
	case protocol.Ack:
		return true
	case protocol.Broadcast:
		s.log.Warn().Msg("client sent server-only operation, ignoring")
		return true
	default:
		s.log.Warn().Str("op", fmt.Sprintf("%T", op)).Msg("unhandled operation, ignoring")
		return true
	}
}

func (s *session) saveMessage(body string) {
	if s.srv.cfg.Store == nil {
		return
	}
	msg := store.Message{From: s.name, Body: body, At: time.Now()}
	if err := s.srv.cfg.Store.Save(context.Background(), msg); err != nil {
		s.log.Warn().Err(err).Msg("store save failed")
	}
}

// send queues a frame for this connection's own traffic. Unlike broadcast
// fan-out this waits when the queue is full: a peer's direct replies are
// never silently dropped.
func (s *session) send(op protocol.Operation) error {
	data, err := protocol.Encode(op)
	if err != nil {
		return err
	}
	select {
	case s.peer.Outgoing <- data:
		return nil
	case <-s.drain:
		return errSessionClosing
	}
}

func (s *session) broadcast(op protocol.Operation) {
	data, err := protocol.Encode(op)
	if err != nil {
		s.log.Error().Err(err).Msg("encode for broadcast failed")
		return
	}
	s.srv.registry.Broadcast(s.id, data)
}

func (s *session) writeLoop() {
	defer close(s.writerDone)
	ctx := context.Background()
	for {
		select {
		case data := <-s.peer.Outgoing:
			if err := s.conn.Write(ctx, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-s.drain:
			s.flush(ctx)
			return
		}
	}
}

// flush writes frames already queued at drain time, bounded by the grace
// period. Nothing new arrives once the registry has the connection in
// Closing.
func (s *session) flush(ctx context.Context) {
	deadline := time.NewTimer(s.srv.cfg.GracePeriod)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			return
		default:
		}
		select {
		case data := <-s.peer.Outgoing:
			if err := s.conn.Write(ctx, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
