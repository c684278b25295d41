package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *secure.Cipher {
	t.Helper()
	c, err := secure.NewCipherFromConfig(secure.KeyConfig{Secret: "server-test-secret", Salt: "test-salt", Iterations: 1000})
	require.NoError(t, err)
	return c
}

func nullLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

// stubAuth accepts a fixed set of identity/password pairs and counts calls.
type stubAuth struct {
	users map[string]string
	err   error
	calls atomic.Int32
}

func newStubAuth(pairs ...string) *stubAuth {
	a := &stubAuth{users: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		a.users[pairs[i]] = pairs[i+1]
	}
	return a
}

func (a *stubAuth) Authenticate(_ context.Context, identity, pw string) (bool, error) {
	a.calls.Add(1)
	if a.err != nil {
		return false, a.err
	}
	want, ok := a.users[identity]
	return ok && want == pw, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.RateLimit = RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	return cfg
}

func newTestServer(t *testing.T, cfg Config, authn Authenticator, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(nullLogger())}, opts...)
	srv, err := New(cfg, authn, testCipher(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// startTCP serves srv on a loopback listener and returns its address.
func startTCP(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String()
}

// testPeer is the client half of a connection in handler tests.
type testPeer struct {
	t      *testing.T
	conn   protocol.Conn
	cipher *secure.Cipher
}

func dialPeer(t *testing.T, addr string) *testPeer {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	return newPeer(t, protocol.NewStreamConn(nc, 0))
}

func newPeer(t *testing.T, conn protocol.Conn) *testPeer {
	t.Helper()
	p := &testPeer{t: t, conn: conn, cipher: testCipher(t)}
	t.Cleanup(func() { _ = p.conn.Close() })
	return p
}

func (p *testPeer) read() ([]byte, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		return nil, err
	}
	return p.conn.ReadFrame()
}

func (p *testPeer) expect(marker string) {
	p.t.Helper()
	got, err := p.read()
	require.NoError(p.t, err)
	require.Equal(p.t, marker, string(got))
}

func (p *testPeer) login(identity, pw string) {
	p.t.Helper()
	p.expect(protocol.AuthRequest)
	require.NoError(p.t, p.conn.WriteFrame([]byte(identity+":"+pw)))
	p.expect(protocol.AuthSuccess)
}

func (p *testPeer) send(text string) {
	p.t.Helper()
	data, err := protocol.Envelope{Message: text}.Encode()
	require.NoError(p.t, err)
	sealed, err := p.cipher.Encrypt(data)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteFrame(sealed))
}

func (p *testPeer) receive() protocol.Envelope {
	p.t.Helper()
	frame, err := p.read()
	require.NoError(p.t, err)
	plaintext, err := p.cipher.Decrypt(frame)
	require.NoError(p.t, err)
	env, err := protocol.DecodeEnvelope(plaintext)
	require.NoError(p.t, err)
	return env
}

// expectClosed waits for the server to close the connection.
func (p *testPeer) expectClosed() {
	p.t.Helper()
	_, err := p.read()
	require.Error(p.t, err)
}

// fakeConn is an in-memory protocol.Conn for registry and hub tests.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) ReadFrame() ([]byte, error) { return nil, net.ErrClosed }

func (c *fakeConn) WriteFrame(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.frames = append(c.frames, p)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) RemoteAddr() string               { return "fake" }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newFakeSession(identity string, queue int) (*Session, *fakeConn) {
	cfg := testConfig()
	cfg.SendQueueSize = queue
	conn := &fakeConn{}
	return newSession(identity, conn, cfg, nullLogger()), conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}
