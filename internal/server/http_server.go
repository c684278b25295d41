// Package server constructs and stops the HTTP service that carries the
// WebSocket endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewHTTPServer creates an http.Server with production timeouts. Hijacked
// WebSocket connections are not subject to these timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownHTTPServer gracefully shuts down srv, waiting up to timeout for
// in-flight requests.
func ShutdownHTTPServer(srv *http.Server, timeout time.Duration, log logrus.FieldLogger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http shutdown failed")
	}
	log.Info("HTTP server shutdown completed")
	return nil
}
