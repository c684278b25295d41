package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeAndRelay(t *testing.T) {
	history := store.NewMemoryStore()
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "password123", "bob", "password456"),
		WithHistory(history), WithPresence(history))
	addr := startTCP(t, srv)

	alice := dialPeer(t, addr)
	alice.login("alice", "password123")
	bob := dialPeer(t, addr)
	bob.login("bob", "password456")
	waitFor(t, func() bool { return srv.Registry().Len() == 2 })

	alice.send("Hello, Bob!")
	env := bob.receive()
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, "Hello, Bob!", env.Message)

	bob.send("Hi, Alice!")
	env = alice.receive()
	assert.Equal(t, "bob", env.Sender)
	assert.Equal(t, "Hi, Alice!", env.Message)

	recent, err := history.Recent(context.Background(), chat.DefaultRoom, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "bob", recent[0].Sender)
	assert.Equal(t, "Hi, Alice!", recent[0].Content)

	_, seen, err := history.LastSeen(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSenderIdentityComesFromSession(t *testing.T) {
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "a", "bob", "b"))
	addr := startTCP(t, srv)

	alice := dialPeer(t, addr)
	alice.login("alice", "a")
	bob := dialPeer(t, addr)
	bob.login("bob", "b")

	data, err := protocol.Envelope{Username: "mallory", Message: "trust me"}.Encode()
	require.NoError(t, err)
	sealed, err := alice.cipher.Encrypt(data)
	require.NoError(t, err)
	require.NoError(t, alice.conn.WriteFrame(sealed))

	assert.Equal(t, "alice", bob.receive().Sender)
}

func TestMalformedCredentialsNeverReachAuthenticator(t *testing.T) {
	for _, payload := range []string{"alicepassword", "alice:pass:word", ":password"} {
		t.Run(payload, func(t *testing.T) {
			authn := newStubAuth("alice", "password")
			srv := newTestServer(t, testConfig(), authn)
			peer := dialPeer(t, startTCP(t, srv))

			peer.expect(protocol.AuthRequest)
			require.NoError(t, peer.conn.WriteFrame([]byte(payload)))
			peer.expect(protocol.AuthFailed)
			peer.expectClosed()
			assert.Zero(t, authn.calls.Load())
		})
	}
}

func TestBadCredentials(t *testing.T) {
	tests := []struct {
		name  string
		authn *stubAuth
		creds string
	}{
		{name: "wrong password", authn: newStubAuth("alice", "password123"), creds: "alice:wrong"},
		{name: "unknown identity", authn: newStubAuth("alice", "password123"), creds: "mallory:password123"},
		{name: "store error", authn: &stubAuth{err: errors.Wrap(store.ErrPersistence, "down")}, creds: "alice:password123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, testConfig(), tt.authn)
			peer := dialPeer(t, startTCP(t, srv))

			peer.expect(protocol.AuthRequest)
			require.NoError(t, peer.conn.WriteFrame([]byte(tt.creds)))
			peer.expect(protocol.AuthFailed)
			peer.expectClosed()
			assert.Equal(t, int32(1), tt.authn.calls.Load(), "exactly one attempt per connection")
			assert.Zero(t, srv.Registry().Len())
		})
	}
}

func TestServeConnClassifiesAuthFailure(t *testing.T) {
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "password123"))
	serverSide, clientSide := net.Pipe()
	peer := newPeer(t, protocol.NewStreamConn(clientSide, 0))

	errc := make(chan error, 1)
	go func() { errc <- srv.ServeConn(context.Background(), protocol.NewStreamConn(serverSide, 0)) }()

	peer.expect(protocol.AuthRequest)
	require.NoError(t, peer.conn.WriteFrame([]byte("alice:nope")))
	peer.expect(protocol.AuthFailed)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrAuthentication)
	case <-time.After(3 * time.Second):
		t.Fatal("ServeConn did not return")
	}
}

func TestTamperedFrameClosesSession(t *testing.T) {
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "a", "bob", "b"))
	addr := startTCP(t, srv)

	alice := dialPeer(t, addr)
	alice.login("alice", "a")
	bob := dialPeer(t, addr)
	bob.login("bob", "b")

	data, err := protocol.Envelope{Message: "hello"}.Encode()
	require.NoError(t, err)
	sealed, err := alice.cipher.Encrypt(data)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff
	require.NoError(t, alice.conn.WriteFrame(sealed))

	alice.expectClosed()
	waitFor(t, func() bool { return srv.Registry().Len() == 1 })
	_, ok := srv.Registry().Get("alice")
	assert.False(t, ok)

	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = bob.conn.ReadFrame()
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "bob must not receive the tampered message")
}

func TestDuplicateLoginEvictsOlderSession(t *testing.T) {
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "a", "bob", "b"))
	addr := startTCP(t, srv)

	first := dialPeer(t, addr)
	first.login("alice", "a")
	second := dialPeer(t, addr)
	second.login("alice", "a")

	first.expectClosed()
	bob := dialPeer(t, addr)
	bob.login("bob", "b")
	waitFor(t, func() bool { return srv.Registry().Len() == 2 })

	second.send("still me")
	assert.Equal(t, "alice", bob.receive().Sender)
}

func TestDuplicateLoginRejected(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicateLogin = DuplicateReject
	srv := newTestServer(t, cfg, newStubAuth("alice", "a"))
	addr := startTCP(t, srv)

	first := dialPeer(t, addr)
	first.login("alice", "a")

	second := dialPeer(t, addr)
	second.expect(protocol.AuthRequest)
	require.NoError(t, second.conn.WriteFrame([]byte("alice:a")))
	second.expect(protocol.AuthFailed)
	second.expectClosed()

	got, ok := srv.Registry().Get("alice")
	require.True(t, ok)
	assert.False(t, got.Closed())
}

func TestHandshakeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond
	srv := newTestServer(t, cfg, newStubAuth("alice", "a"))
	peer := dialPeer(t, startTCP(t, srv))

	peer.expect(protocol.AuthRequest)
	peer.expectClosed()
}

func TestHistoryReplay(t *testing.T) {
	history := store.NewMemoryStore()
	for _, text := range []string{"one", "two", "three"} {
		_, err := history.Append(context.Background(), chat.NewMessage("bob", text, ""))
		require.NoError(t, err)
	}

	cfg := testConfig()
	cfg.HistoryReplay = 2
	srv := newTestServer(t, cfg, newStubAuth("alice", "a"), WithHistory(history))
	peer := dialPeer(t, startTCP(t, srv))
	peer.login("alice", "a")

	assert.Equal(t, "two", peer.receive().Message)
	assert.Equal(t, "three", peer.receive().Message)
}

func TestRateLimitedMessagesAreDropped(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	srv := newTestServer(t, cfg, newStubAuth("alice", "a", "bob", "b"))
	addr := startTCP(t, srv)

	alice := dialPeer(t, addr)
	alice.login("alice", "a")
	bob := dialPeer(t, addr)
	bob.login("bob", "b")

	alice.send("first")
	alice.send("second")
	assert.Equal(t, "first", bob.receive().Message)

	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := bob.conn.ReadFrame()
	assert.Error(t, err)
	_, ok := srv.Registry().Get("alice")
	assert.True(t, ok, "rate limiting drops messages without closing the session")
}

func TestOversizedRelayKeepsRecipientsConnected(t *testing.T) {
	t.Run("frame at the inbound limit", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxFrameSize = 1024
		srv := newTestServer(t, cfg, newStubAuth("alice", "a", "bob", "b"))
		addr := startTCP(t, srv)

		alice := dialPeer(t, addr)
		alice.login("alice", "a")
		bob := dialPeer(t, addr)
		bob.login("bob", "b")
		waitFor(t, func() bool { return srv.Registry().Len() == 2 })

		base, err := protocol.Envelope{}.Encode()
		require.NoError(t, err)
		alice.send(strings.Repeat("x", 1024-alice.cipher.SealedSize(len(base))))
		alice.send("after")

		assert.Equal(t, "after", bob.receive().Message)
		assert.Equal(t, []string{"alice", "bob"}, srv.Registry().Identities())
	})

	t.Run("html characters are relayed unescaped", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxFrameSize = 2048
		srv := newTestServer(t, cfg, newStubAuth("alice", "a", "bob", "b"))
		addr := startTCP(t, srv)

		alice := dialPeer(t, addr)
		alice.login("alice", "a")
		bob := dialPeer(t, addr)
		bob.login("bob", "b")
		waitFor(t, func() bool { return srv.Registry().Len() == 2 })

		text := strings.Repeat("<", 600)
		alice.send(text)
		env := bob.receive()
		assert.Equal(t, "alice", env.Sender)
		assert.Equal(t, text, env.Message)
		assert.Equal(t, 2, srv.Registry().Len())
	})
}

func TestOverlongRoomIsDiscarded(t *testing.T) {
	srv := newTestServer(t, testConfig(), newStubAuth("alice", "a", "bob", "b"))
	addr := startTCP(t, srv)

	alice := dialPeer(t, addr)
	alice.login("alice", "a")
	bob := dialPeer(t, addr)
	bob.login("bob", "b")
	waitFor(t, func() bool { return srv.Registry().Len() == 2 })

	data, err := protocol.Envelope{Message: "lost", Room: strings.Repeat("r", chat.MaxRoomLength+1)}.Encode()
	require.NoError(t, err)
	sealed, err := alice.cipher.Encrypt(data)
	require.NoError(t, err)
	require.NoError(t, alice.conn.WriteFrame(sealed))
	alice.send("kept")

	assert.Equal(t, "kept", bob.receive().Message)
}

func TestWritePumpSkipsFramesTheTransportRejects(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	peer := newPeer(t, protocol.NewStreamConn(clientSide, 0))
	session := newSession("alice", protocol.NewStreamConn(serverSide, 64), testConfig(), nullLogger())
	go session.writePump(time.Second, 0)
	t.Cleanup(func() {
		session.Close()
		<-session.Done()
	})

	require.NoError(t, session.Enqueue(make([]byte, 65)))
	require.NoError(t, session.Enqueue([]byte("fits")))

	got, err := peer.read()
	require.NoError(t, err)
	assert.Equal(t, "fits", string(got))
	assert.False(t, session.Closed())
}
