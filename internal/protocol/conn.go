package protocol

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Conn is a frame-oriented connection. ReadFrame must only be called from
// one goroutine at a time; WriteFrame is safe for concurrent use.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Pinger is implemented by transports with a native keepalive.
type Pinger interface {
	Ping(deadline time.Time) error
}

// StreamConn frames a byte stream such as TCP or TLS.
type StreamConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize uint32
	writeMu sync.Mutex
}

// NewStreamConn wraps c. A maxSize of zero selects DefaultMaxFrameSize.
func NewStreamConn(c net.Conn, maxSize uint32) *StreamConn {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &StreamConn{conn: c, reader: bufio.NewReader(c), maxSize: maxSize}
}

func (s *StreamConn) ReadFrame() ([]byte, error) {
	return ReadFrame(s.reader, s.maxSize)
}

func (s *StreamConn) WriteFrame(payload []byte) error {
	if uint32(len(payload)) > s.maxSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d > %d bytes", len(payload), s.maxSize)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.conn, payload)
}

func (s *StreamConn) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *StreamConn) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
func (s *StreamConn) RemoteAddr() string                 { return s.conn.RemoteAddr().String() }
func (s *StreamConn) Close() error                       { return s.conn.Close() }

// WebSocketConn carries one frame per binary WebSocket message.
type WebSocketConn struct {
	ws      *websocket.Conn
	maxSize uint32
	writeMu sync.Mutex
}

// NewWebSocketConn wraps ws and caps its read limit to one frame.
func NewWebSocketConn(ws *websocket.Conn, maxSize uint32) *WebSocketConn {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	ws.SetReadLimit(int64(maxSize) + HeaderSize)
	return &WebSocketConn{ws: ws, maxSize: maxSize}
}

func (w *WebSocketConn) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := w.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, errors.Wrap(ErrFrameTooLarge, err.Error())
			}
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		r := bytes.NewReader(data)
		payload, err := ReadFrame(r, w.maxSize)
		if err != nil {
			return nil, err
		}
		if r.Len() != 0 {
			return nil, errors.Errorf("websocket message carries %d trailing bytes", r.Len())
		}
		return payload, nil
	}
}

func (w *WebSocketConn) WriteFrame(payload []byte) error {
	if uint32(len(payload)) > w.maxSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d > %d bytes", len(payload), w.maxSize)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.ws.WriteMessage(websocket.BinaryMessage, AppendFrame(nil, payload))
}

// Ping sends a WebSocket ping control frame.
func (w *WebSocketConn) Ping(deadline time.Time) error {
	return w.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *WebSocketConn) SetReadDeadline(t time.Time) error  { return w.ws.SetReadDeadline(t) }
func (w *WebSocketConn) SetWriteDeadline(t time.Time) error { return w.ws.SetWriteDeadline(t) }
func (w *WebSocketConn) RemoteAddr() string                 { return w.ws.RemoteAddr().String() }

// Close sends a best-effort close message before closing the socket.
func (w *WebSocketConn) Close() error {
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.ws.Close()
}
