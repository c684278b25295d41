// Package protocol defines the chat wire format.
//
// Every payload travels as a frame: a 4-byte big-endian length followed by
// that many bytes. Stream transports (TCP, TLS) carry frames back to back;
// the WebSocket transport carries one frame per binary message, since
// WebSocket already preserves message boundaries.
//
// Session flow
//
//	server -> client  AUTH_REQUEST
//	client -> server  <identity>:<password>
//	server -> client  AUTH_SUCCESS | AUTH_FAILED
//	both directions   sealed Envelope frames
package protocol
