// Package server exposes HTTP handlers for WebSocket upgrades, health
// checks and session stats.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades GET requests and runs the same session
// protocol as the TCP listener, one frame per binary message.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.isClosed() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}
	if !s.acquireSlot() {
		s.log.WithField("remote", r.RemoteAddr).Warn("connection limit reached; refusing websocket upgrade")
		http.Error(w, "Too many connections.", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseSlot()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("websocket upgrade failed")
		return
	}

	conn := protocol.NewWebSocketConn(ws, s.cfg.MaxFrameSize)
	if !s.trackConn(conn, true) {
		_ = conn.Close()
		return
	}
	defer s.wg.Done()
	defer s.trackConn(conn, false)
	_ = s.ServeConn(s.ctx, conn)
}

// HealthHandler responds with a plain text liveness message.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "cipherchat server is running!")
}

// StatsHandler reports live session and connection counts as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		s.log.WithError(err).Warn("error writing stats response")
	}
}
