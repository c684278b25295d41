// Package testhelpers provides common utilities for the cipherchat
// integration tests.
//
// Env starts a complete server stack (credential service, datastore, chat
// listener and HTTP/WebSocket endpoint) on loopback ports so tests can
// drive it with the real client library.
package testhelpers

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/cipherchat/internal/auth"
	"github.com/Tyrowin/cipherchat/internal/client"
	"github.com/Tyrowin/cipherchat/internal/password"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/Tyrowin/cipherchat/internal/server"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// SharedSecret is the key material every test client and server use.
const SharedSecret = "integration-shared-secret"

// Options customize NewEnv.
type Options struct {
	Config  *server.Config
	Backend store.Backend
	// ServerTLS wraps the chat listener in TLS when set.
	ServerTLS *tls.Config
}

// Env is a running server stack.
type Env struct {
	Server  *server.Server
	Auth    *auth.Service
	Backend store.Backend
	Addr    string
	HTTP    *httptest.Server
	Logs    *logtest.Hook

	serveErr chan error
}

// NewCipher derives the cipher shared by the server and test clients.
func NewCipher(t *testing.T) *secure.Cipher {
	t.Helper()
	c, err := secure.NewCipherFromConfig(secure.KeyConfig{Secret: SharedSecret, Salt: "integration", Iterations: 1000})
	if err != nil {
		t.Fatalf("Failed to derive cipher: %v", err)
	}
	return c
}

// NewEnv starts a server and registers cleanup.
func NewEnv(t *testing.T, opts Options) *Env {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.RateLimit = server.RateLimitConfig{Burst: 1000, RefillInterval: time.Second}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	backend := opts.Backend
	if backend == nil {
		backend = store.NewMemoryStore()
	}

	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create hasher: %v", err)
	}
	authSvc, err := auth.NewService(backend, hasher)
	if err != nil {
		t.Fatalf("Failed to create auth service: %v", err)
	}

	logger, hook := logtest.NewNullLogger()
	srv, err := server.New(cfg, authSvc, NewCipher(t),
		server.WithHistory(backend),
		server.WithPresence(backend),
		server.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	if opts.ServerTLS != nil {
		ln = tls.NewListener(ln, opts.ServerTLS)
	}

	env := &Env{
		Server:   srv,
		Auth:     authSvc,
		Backend:  backend,
		Addr:     ln.Addr().String(),
		HTTP:     httptest.NewServer(srv.Routes()),
		Logs:     hook,
		serveErr: make(chan error, 1),
	}
	go func() { env.serveErr <- srv.Serve(ln) }()

	t.Cleanup(func() {
		env.HTTP.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = backend.Close()
	})
	return env
}

// ServeErr receives the value returned by Serve.
func (e *Env) ServeErr() <-chan error { return e.serveErr }

// WebSocketURL returns the ws:// address of the upgrade endpoint.
func (e *Env) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(e.HTTP.URL, "http") + "/ws"
}

// MustRegister creates an account or fails the test.
func (e *Env) MustRegister(t *testing.T, identity, pw string) {
	t.Helper()
	ok, err := e.Auth.Register(context.Background(), identity, pw)
	if err != nil || !ok {
		t.Fatalf("Failed to register %s: ok=%v err=%v", identity, ok, err)
	}
}

// Dial opens an unauthenticated TCP client.
func (e *Env) Dial(t *testing.T, tlsConfig *tls.Config) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), e.Addr, NewCipher(t), client.Options{TLS: tlsConfig, Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", e.Addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Login dials over TCP and authenticates.
func (e *Env) Login(t *testing.T, identity, pw string) *client.Client {
	t.Helper()
	c := e.Dial(t, nil)
	if err := c.Login(identity, pw); err != nil {
		t.Fatalf("Login as %s failed: %v", identity, err)
	}
	return c
}

// LoginWebSocket dials the WebSocket endpoint and authenticates.
func (e *Env) LoginWebSocket(t *testing.T, identity, pw string) *client.Client {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")
	c, err := client.DialWebSocket(context.Background(), e.WebSocketURL(), NewCipher(t),
		client.Options{Header: header, Timeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Login(identity, pw); err != nil {
		t.Fatalf("WebSocket login as %s failed: %v", identity, err)
	}
	return c
}

// WaitForSessions blocks until the registry holds n sessions.
func (e *Env) WaitForSessions(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for e.Server.Registry().Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d sessions, have %d", n, e.Server.Registry().Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// AssertNoMessage fails if c receives anything within wait.
func AssertNoMessage(t *testing.T, c *client.Client, wait time.Duration) {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	msg, err := c.Receive()
	if err == nil {
		t.Errorf("Expected no message, got %+v", msg)
		return
	}
	var ne net.Error
	if !(errors.As(err, &ne) && ne.Timeout()) {
		t.Errorf("Expected read timeout, got %v", err)
	}
}

// ReceiveWithin reads one message or fails the test.
func ReceiveWithin(t *testing.T, c *client.Client, wait time.Duration) (sender, content, room string) {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	msg, err := c.Receive()
	if err != nil {
		t.Fatalf("Failed to receive message: %v", err)
	}
	return msg.Sender, msg.Content, msg.Room
}
