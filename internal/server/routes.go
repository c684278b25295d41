// Package server wires HTTP handlers into a ServeMux.
package server

import "net/http"

// Routes returns the HTTP surface: health check, stats and the WebSocket
// endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
