// Package server manages authenticated sessions, their bounded send
// queues and write pumps.
package server

import (
	"sync"
	"time"

	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Session is one authenticated connection. After registration the write
// pump is the only goroutine writing to the connection; everyone else
// hands it frames through Enqueue.
type Session struct {
	ID           string
	Identity     string
	RegisteredAt time.Time

	conn    protocol.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rateLimiter
	log     logrus.FieldLogger

	mu     sync.Mutex
	closed bool
}

func newSession(identity string, conn protocol.Conn, cfg Config, log logrus.FieldLogger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:           id,
		Identity:     identity,
		RegisteredAt: time.Now(),
		conn:         conn,
		send:         make(chan []byte, cfg.SendQueueSize),
		done:         make(chan struct{}),
		limiter:      newRateLimiter(cfg.RateLimit),
		log: log.WithFields(logrus.Fields{
			"identity": identity,
			"session":  id,
		}),
	}
}

// RemoteAddr returns the peer address of the underlying connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Enqueue hands a frame to the write pump without blocking. It fails when
// the session is closed or its queue is full.
func (s *Session) Enqueue(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errQueueFull
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the write pump and closes the connection. Safe to call more
// than once and from any goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	if err := s.conn.Close(); !isExpectedCloseError(err) {
		s.log.WithError(err).Debug("error closing connection")
	}
}

// Done is closed once the write pump has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump(writeTimeout, pingInterval time.Duration) {
	defer close(s.done)

	var tick <-chan time.Time
	pinger, canPing := s.conn.(protocol.Pinger)
	if canPing && pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				return
			}
			err := s.write(frame, writeTimeout)
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.log.WithError(err).Warn("dropping frame the transport cannot carry")
				continue
			}
			if err != nil {
				s.Close()
				return
			}
		case <-tick:
			if err := pinger.Ping(time.Now().Add(writeTimeout)); err != nil {
				s.log.WithError(err).Debug("ping failed")
				s.Close()
				return
			}
		}
	}
}

func (s *Session) write(frame []byte, timeout time.Duration) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		s.log.WithError(err).Debug("error setting write deadline")
		return err
	}
	if err := s.conn.WriteFrame(frame); err != nil {
		if !isExpectedCloseError(err) && !errors.Is(err, protocol.ErrFrameTooLarge) {
			s.log.WithError(err).Warn("error writing frame")
		}
		return err
	}
	return nil
}
