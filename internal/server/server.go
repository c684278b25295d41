// Package server owns the accept loop, the connection limit and graceful
// shutdown.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Option customizes a Server.
type Option func(*Server)

// WithHistory sets the store messages are appended to.
func WithHistory(h store.HistoryStore) Option {
	return func(s *Server) { s.history = h }
}

// WithPresence sets the store last-seen times are recorded in.
func WithPresence(p store.PresenceStore) Option {
	return func(s *Server) { s.presence = p }
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithTLSConfig makes ListenAndServe wrap its listener in TLS.
func WithTLSConfig(c *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = c }
}

// Stats is a point-in-time view of server load.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	Connections    int `json:"connections"`
}

// Server accepts chat connections over any net.Listener and over WebSocket.
type Server struct {
	cfg       Config
	auth      Authenticator
	cipher    *secure.Cipher
	history   store.HistoryStore
	presence  store.PresenceStore
	tlsConfig *tls.Config
	log       logrus.FieldLogger

	registry *Registry
	hub      *Hub
	origins  *originPolicy
	slots    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[protocol.Conn]struct{}
}

// New builds a Server. cfg is sanitized before use.
func New(cfg Config, authn Authenticator, cipher *secure.Cipher, opts ...Option) (*Server, error) {
	if authn == nil {
		return nil, errors.New("authenticator is required")
	}
	if cipher == nil {
		return nil, errors.New("cipher is required")
	}

	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		auth:      authn,
		cipher:    cipher,
		log:       logrus.StandardLogger(),
		registry:  NewRegistry(),
		slots:     make(chan struct{}, cfg.MaxConnections),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[protocol.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.registry, s.history, s.cipher, cfg.MaxFrameSize, s.log)
	s.origins = newOriginPolicy(cfg.AllowedOrigins, s.log)
	return s, nil
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config { return s.cfg }

// Registry returns the live session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Hub returns the broadcast engine.
func (s *Server) Hub() *Hub { return s.hub }

// Stats reports live sessions and open connections.
func (s *Server) Stats() Stats {
	return Stats{
		ActiveSessions: s.registry.Len(),
		Connections:    len(s.slots),
	}
}

// ListenAndServe listens on cfg.Addr(), with TLS if configured, and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return errors.Wrap(err, "listen failed")
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close or Shutdown. It always
// returns a non-nil error; after Close it returns ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	s.log.WithField("addr", ln.Addr().String()).Info("chat listener started")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "accept failed")
			}
			backoff = nextBackoff(backoff)
			s.log.WithError(err).WithField("retry_in", backoff).Warn("accept error")
			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return ErrServerClosed
			}
		}
		backoff = 0

		if !s.acquireSlot() {
			s.log.WithField("remote", nc.RemoteAddr().String()).Warn("connection limit reached; closing connection")
			_ = nc.Close()
			continue
		}

		conn := protocol.NewStreamConn(nc, s.cfg.MaxFrameSize)
		if !s.trackConn(conn, true) {
			s.releaseSlot()
			_ = nc.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			defer s.releaseSlot()
			defer s.trackConn(conn, false)
			_ = s.ServeConn(s.ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) acquireSlot() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) releaseSlot() { <-s.slots }

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

// trackConn registers a connection and adds it to the wait group. It
// refuses once the server is closed.
func (s *Server) trackConn(c protocol.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		return true
	}
	delete(s.conns, c)
	return true
}

func (s *Server) touchLastSeen(ctx context.Context, identity string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.TouchLastSeen(ctx, identity, time.Now()); err != nil {
		s.log.WithError(err).WithField("identity", identity).Warn("failed to record last seen")
	}
}

// Close stops accepting new connections. Live sessions keep running.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && firstErr == nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown closes the listeners, disconnects every client and waits for
// connection goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("initiating server shutdown")
	err := s.Close()
	s.cancel()

	n := s.registry.CloseAll()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.log.WithField("sessions", n).Info("closed client connections")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("server shutdown completed")
		return err
	case <-ctx.Done():
		s.log.Warn("shutdown deadline reached; some connections may still be closing")
		return ctx.Err()
	}
}
