// Package server runs the per-connection state machine from AUTH_REQUEST
// through the active read loop to cleanup.
package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is a connection handler's position in the session lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAwaitingCredentials
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingCredentials:
		return "awaiting_credentials"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Authenticator checks an identity/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, identity, password string) (bool, error)
}

type handler struct {
	srv     *Server
	conn    protocol.Conn
	state   State
	session *Session
	pumping bool
	log     logrus.FieldLogger
}

// ServeConn runs the handshake and, on success, the session read loop for
// one connection. It closes conn before returning. A nil error means the
// peer disconnected after a successful session.
func (s *Server) ServeConn(ctx context.Context, conn protocol.Conn) error {
	h := &handler{
		srv:  s,
		conn: conn,
		log:  s.log.WithField("remote", conn.RemoteAddr()),
	}
	defer h.close()

	identity, err := h.handshake(ctx)
	if err != nil {
		h.log.WithError(err).WithField("state", h.state).Info("handshake ended")
		return err
	}
	return h.serveActive(ctx, identity)
}

func (h *handler) transition(next State) {
	h.log.WithFields(logrus.Fields{"from": h.state, "to": next}).Trace("state change")
	h.state = next
}

func (h *handler) writeMarker(marker string) error {
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.srv.cfg.WriteTimeout)); err != nil {
		return errors.Wrap(ErrConnection, err.Error())
	}
	if err := h.conn.WriteFrame([]byte(marker)); err != nil {
		return errors.Wrapf(ErrConnection, "write %s: %v", marker, err)
	}
	return nil
}

// reject answers AUTH_FAILED and returns an error matching both
// ErrAuthentication and cause.
func (h *handler) reject(cause error) error {
	if err := h.writeMarker(protocol.AuthFailed); err != nil {
		h.log.WithError(err).Debug("could not deliver AUTH_FAILED")
	}
	return fmt.Errorf("%w: %w", ErrAuthentication, cause)
}

func (h *handler) handshake(ctx context.Context) (string, error) {
	if err := h.writeMarker(protocol.AuthRequest); err != nil {
		return "", err
	}
	h.transition(StateAwaitingCredentials)

	if err := h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.HandshakeTimeout)); err != nil {
		return "", errors.Wrap(ErrConnection, err.Error())
	}
	payload, err := h.conn.ReadFrame()
	if err != nil {
		return "", errors.Wrapf(ErrConnection, "read credentials: %v", err)
	}

	creds, err := protocol.ParseCredentials(payload)
	if err != nil {
		return "", h.reject(err)
	}
	h.log = h.log.WithField("identity", creds.Identity)

	h.transition(StateAuthenticating)
	ok, err := h.srv.auth.Authenticate(ctx, creds.Identity, creds.Password)
	if err != nil {
		h.log.WithError(err).Error("credential check failed")
		return "", h.reject(err)
	}
	if !ok {
		return "", h.reject(errInvalidCredentials)
	}
	return creds.Identity, nil
}

func (h *handler) serveActive(ctx context.Context, identity string) error {
	cfg := h.srv.cfg
	session := newSession(identity, h.conn, cfg, h.srv.log.WithField("remote", h.conn.RemoteAddr()))

	evicted, ok := h.srv.hub.Admit(ctx, session, cfg.DuplicateLogin, cfg.HistoryReplay)
	if !ok {
		return h.reject(ErrDuplicateSession)
	}
	h.session = session
	h.log = session.log
	if evicted != nil {
		evicted.log.Info("replaced by a newer login")
		evicted.Close()
	}

	if err := h.writeMarker(protocol.AuthSuccess); err != nil {
		return err
	}
	h.transition(StateActive)
	h.log.Info("session active")
	h.srv.touchLastSeen(ctx, identity)

	h.pumping = true
	go session.writePump(cfg.WriteTimeout, cfg.PingInterval)

	for {
		if err := h.conn.SetReadDeadline(h.idleDeadline()); err != nil {
			return errors.Wrap(ErrConnection, err.Error())
		}
		frame, err := h.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || session.Closed() {
				return nil
			}
			return errors.Wrapf(ErrConnection, "read frame: %v", err)
		}

		plaintext, err := h.srv.cipher.Decrypt(frame)
		if err != nil {
			h.log.WithError(err).Warn("dropping connection after undecryptable frame")
			return err
		}
		env, err := protocol.DecodeEnvelope(plaintext)
		if err != nil {
			h.log.WithError(err).Warn("dropping connection after malformed message")
			return err
		}
		if env.Username != "" && env.Username != identity {
			h.log.WithField("claimed", env.Username).Debug("ignoring claimed username")
		}

		if !session.limiter.allow() {
			h.log.WithFields(logrus.Fields{
				"burst":    cfg.RateLimit.Burst,
				"interval": cfg.RateLimit.RefillInterval,
			}).Warn("rate limit exceeded; discarding message")
			continue
		}

		if len(env.Room) > chat.MaxRoomLength {
			h.log.WithField("length", len(env.Room)).Warn("room name too long; discarding message")
			continue
		}

		if _, err := h.srv.hub.Broadcast(ctx, chat.NewMessage(identity, env.Message, env.Room)); err != nil {
			h.log.WithError(err).Warn("discarding message")
		}
	}
}

func (h *handler) idleDeadline() time.Time {
	if h.srv.cfg.IdleTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(h.srv.cfg.IdleTimeout)
}

func (h *handler) close() {
	h.transition(StateClosed)
	if h.session == nil {
		if err := h.conn.Close(); !isExpectedCloseError(err) {
			h.log.WithError(err).Debug("error closing connection")
		}
		return
	}

	h.srv.registry.Release(h.session)
	h.session.Close()
	if h.pumping {
		<-h.session.Done()
	}
	h.srv.touchLastSeen(context.Background(), h.session.Identity)
	h.log.Info("session closed")
}
