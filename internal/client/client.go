// Package client is a small library for talking to a chat server over TCP,
// TLS or WebSocket. It is used by the connect command and by tests.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	// ErrAuthFailed is returned by Login when the server answers AUTH_FAILED.
	ErrAuthFailed = errors.New("authentication rejected by server")
	// ErrUnexpectedReply is returned when the server deviates from the handshake.
	ErrUnexpectedReply = errors.New("unexpected server reply")
)

// Options tune how a Client connects.
type Options struct {
	// TLS enables TLS on Dial when non-nil.
	TLS          *tls.Config
	MaxFrameSize uint32
	// Timeout bounds dialing and each handshake step. Defaults to 10s.
	Timeout time.Duration
	// Header is sent with the WebSocket upgrade request.
	Header http.Header
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 10 * time.Second
	}
	return o.Timeout
}

// Client is one connection to a chat server. Receive must not be called
// concurrently with itself; Send is safe for concurrent use.
type Client struct {
	conn     protocol.Conn
	cipher   *secure.Cipher
	timeout  time.Duration
	identity string
}

// New wraps an established frame connection.
func New(conn protocol.Conn, cipher *secure.Cipher, opts Options) *Client {
	return &Client{conn: conn, cipher: cipher, timeout: opts.timeout()}
}

// Dial connects to addr over TCP, or TLS if opts.TLS is set.
func Dial(ctx context.Context, addr string, cipher *secure.Cipher, opts Options) (*Client, error) {
	dialer := &net.Dialer{Timeout: opts.timeout()}
	var (
		nc  net.Conn
		err error
	)
	if opts.TLS != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: opts.TLS}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, errors.Wrap(err, "dial failed")
	}
	return New(protocol.NewStreamConn(nc, opts.MaxFrameSize), cipher, opts), nil
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string, cipher *secure.Cipher, opts Options) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.timeout(),
		TLSClientConfig:  opts.TLS,
	}
	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial failed")
	}
	return New(protocol.NewWebSocketConn(ws, opts.MaxFrameSize), cipher, opts), nil
}

// Identity returns the identity of the last successful Login.
func (c *Client) Identity() string { return c.identity }

// Login performs the handshake. It returns ErrAuthFailed when the server
// rejects the credentials; the server closes the connection in that case.
func (c *Client) Login(identity, password string) error {
	payload, err := protocol.Credentials{Identity: identity, Password: password}.Encode()
	if err != nil {
		return err
	}

	if err := c.expect(protocol.AuthRequest); err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return errors.Wrap(err, "set write deadline failed")
	}
	if err := c.conn.WriteFrame(payload); err != nil {
		return errors.Wrap(err, "send credentials failed")
	}

	reply, err := c.readMarker()
	if err != nil {
		return err
	}
	switch reply {
	case protocol.AuthSuccess:
		c.identity = identity
		return c.conn.SetReadDeadline(time.Time{})
	case protocol.AuthFailed:
		return ErrAuthFailed
	default:
		return errors.Wrapf(ErrUnexpectedReply, "got %q", reply)
	}
}

func (c *Client) readMarker() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline failed")
	}
	frame, err := c.conn.ReadFrame()
	if err != nil {
		return "", errors.Wrap(err, "read handshake failed")
	}
	return string(frame), nil
}

func (c *Client) expect(marker string) error {
	got, err := c.readMarker()
	if err != nil {
		return err
	}
	if got != marker {
		return errors.Wrapf(ErrUnexpectedReply, "want %s, got %q", marker, got)
	}
	return nil
}

// Send seals text for room and writes it. An empty room means the default
// room.
func (c *Client) Send(room, text string) error {
	data, err := protocol.Envelope{Username: c.identity, Message: text, Room: room}.Encode()
	if err != nil {
		return err
	}
	sealed, err := c.cipher.Encrypt(data)
	if err != nil {
		return errors.Wrap(err, "encrypt failed")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return errors.Wrap(err, "set write deadline failed")
	}
	return errors.Wrap(c.conn.WriteFrame(sealed), "send failed")
}

// Receive blocks until the next message arrives or the read deadline
// passes. The zero deadline set after Login means no timeout.
func (c *Client) Receive() (chat.Message, error) {
	frame, err := c.conn.ReadFrame()
	if err != nil {
		return chat.Message{}, err
	}
	plaintext, err := c.cipher.Decrypt(frame)
	if err != nil {
		return chat.Message{}, err
	}
	env, err := protocol.DecodeEnvelope(plaintext)
	if err != nil {
		return chat.Message{}, err
	}
	msg := chat.Message{
		ID:      env.ID,
		Sender:  env.Author(),
		Content: env.Message,
		Room:    chat.NormalizeRoom(env.Room),
	}
	if env.Timestamp != nil {
		msg.Timestamp = *env.Timestamp
	}
	return msg, nil
}

// SetReadDeadline bounds the next Receive.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
