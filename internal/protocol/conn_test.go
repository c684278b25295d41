package protocol

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamConnOverPipe(t *testing.T) {
	a, b := net.Pipe()
	client := NewStreamConn(a, 0)
	server := NewStreamConn(b, 0)
	defer client.Close()
	defer server.Close()

	go func() {
		_ = server.WriteFrame([]byte(AuthRequest))
	}()

	got, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, AuthRequest, string(got))
}

func TestStreamConnRejectsOversizeWrite(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewStreamConn(a, 8)
	assert.ErrorIs(t, c.WriteFrame(make([]byte, 9)), ErrFrameTooLarge)
}

func TestWebSocketConnRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws, 0)
		defer conn.Close()
		payload, err := conn.ReadFrame()
		if err != nil {
			return
		}
		_ = conn.WriteFrame(append([]byte("echo:"), payload...))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn := NewWebSocketConn(ws, 0)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.WriteFrame([]byte("ping")))
	got, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(got))
}
