// Package server accepts peer connections and relays messages between them.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/wirechat/internal/chat"
	"github.com/omochice/wirechat/internal/observability"
	"github.com/omochice/wirechat/internal/store"
	"github.com/omochice/wirechat/internal/transport/tcp"
	wstransport "github.com/omochice/wirechat/internal/transport/ws"
)

const (
	defaultQueueCapacity = 32
	defaultGracePeriod   = 5 * time.Second

	// acceptRetryDelay paces retries after a non-shutdown Accept error so a
	// persistent condition (out of file descriptors, say) does not spin.
	acceptRetryDelay = 100 * time.Millisecond
)

// Config carries the server's tunables. Listen is required; everything else
// has a usable default.
type Config struct {
	// Listen is the TCP listen address, e.g. ":8080".
	Listen string

	// WSListen optionally enables a WebSocket listener on a second address.
	// Empty disables it.
	WSListen string

	// QueueCapacity bounds each connection's outbound queue.
	QueueCapacity int

	// GracePeriod bounds the flush-then-close drain and the shutdown wait.
	GracePeriod time.Duration

	// Store, when set, receives every accepted SendText.
	Store store.Store

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Server owns the listeners, the registry, and one session per connection.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	registry *chat.Registry

	listener   net.Listener
	wsListener net.Listener

	mu       sync.Mutex
	sessions map[string]*session

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Server. Call Start to bind and begin accepting.
func New(cfg Config) *Server {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(nil)
	}
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: chat.NewRegistry(cfg.Logger, cfg.Metrics),
		sessions: make(map[string]*session),
		quit:     make(chan struct{}),
	}
}

// Start binds the listeners and starts the accept loops. A bind failure is
// returned synchronously so the caller can exit non-zero.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener
	s.log.Info().Str("addr", listener.Addr().String()).Msg("tcp listener started")

	s.wg.Add(1)
	go s.acceptLoop(listener, s.wrapTCP)

	if s.cfg.WSListen != "" {
		wsListener, err := net.Listen("tcp", s.cfg.WSListen)
		if err != nil {
			listener.Close()
			return fmt.Errorf("server: bind %s: %w", s.cfg.WSListen, err)
		}
		s.wsListener = wsListener
		s.log.Info().Str("addr", wsListener.Addr().String()).Msg("websocket listener started")

		s.wg.Add(1)
		go s.acceptLoop(wsListener, s.wrapWS)
	}
	return nil
}

// Addr returns the TCP listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// WSAddr returns the WebSocket listening address.
func (s *Server) WSAddr() string {
	if s.wsListener != nil {
		return s.wsListener.Addr().String()
	}
	return ""
}

// Registry exposes the connection table, mainly for inspection in tests and
// admin surfaces.
func (s *Server) Registry() *chat.Registry {
	return s.registry
}

// Shutdown stops accepting, asks every session to flush and close, and waits
// for them bounded by ctx. Sessions still alive when ctx expires have their
// sockets force-closed; Shutdown does not return until every session is
// gone.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.quit) })
	if s.listener != nil {
		s.listener.Close()
	}
	if s.wsListener != nil {
		s.wsListener.Close()
	}

	s.mu.Lock()
	for _, sess := range s.sessions {
		s.registry.BeginClose(sess.id)
		sess.beginDrain()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		forced := len(s.sessions)
		for _, sess := range s.sessions {
			_ = sess.conn.Close()
		}
		s.mu.Unlock()
		if forced > 0 {
			s.log.Warn().Int("sessions", forced).Msg("force-closing sessions after grace period")
		}
		<-done
	}

	s.registry.Close()
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *Server) acceptLoop(listener net.Listener, wrap func(net.Conn) (chat.Conn, error)) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn().Err(err).Msg("accept failed")
			}
			select {
			case <-s.quit:
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}

		wrapped, err := wrap(conn)
		if err != nil {
			s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection setup failed")
			conn.Close()
			continue
		}
		s.startSession(wrapped)
	}
}

func (s *Server) wrapTCP(conn net.Conn) (chat.Conn, error) {
	return tcp.NewConn(conn), nil
}

func (s *Server) wrapWS(conn net.Conn) (chat.Conn, error) {
	if _, err := ws.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("server: websocket upgrade: %w", err)
	}
	return wstransport.NewConn(conn), nil
}

func (s *Server) startSession(conn chat.Conn) {
	id := uuid.NewString()
	sess := &session{
		id:   id,
		srv:  s,
		conn: conn,
		peer: &chat.Peer{
			ID:       id,
			Outgoing: make(chan []byte, s.cfg.QueueCapacity),
		},
		state:      chat.StateConnecting,
		drain:      make(chan struct{}),
		writerDone: make(chan struct{}),
		log: s.log.With().
			Str("conn_id", id).
			Str("remote", conn.RemoteAddr()).
			Logger(),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go sess.run()
}

func (s *Server) forgetSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
