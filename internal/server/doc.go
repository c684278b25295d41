// Package server implements the chat service core: the per-connection
// handshake state machine, the registry of live sessions and the broadcast
// engine that fans sealed messages out to every other session.
//
// Connections arrive either through Serve on a plain or TLS listener, or
// through the WebSocket endpoint exposed by Routes. Both paths end in
// ServeConn, so a session behaves the same regardless of transport.
package server
