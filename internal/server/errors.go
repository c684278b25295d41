// Package server declares the error values shared by the handler, hub and
// accept loop.
package server

import "github.com/pkg/errors"

var (
	// ErrConnection marks I/O failures on a client connection.
	ErrConnection = errors.New("connection error")
	// ErrAuthentication marks a handshake that ended in AUTH_FAILED.
	ErrAuthentication = errors.New("authentication failed")
	// ErrDuplicateSession accompanies ErrAuthentication when the reject
	// policy refuses a second login for a live identity.
	ErrDuplicateSession = errors.New("identity already has a live session")
	// ErrMessageTooLarge is returned by Broadcast for a message whose relayed
	// frame would exceed the configured frame size.
	ErrMessageTooLarge = errors.New("message too large to relay")
	// ErrServerClosed is returned by Serve after Close or Shutdown.
	ErrServerClosed = errors.New("server closed")

	errInvalidCredentials = errors.New("invalid credentials")
	errSessionClosed      = errors.New("session closed")
	errQueueFull          = errors.New("send queue full")
)
