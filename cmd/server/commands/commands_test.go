package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRegisterAndHistoryAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()

	out, err := run(t, "password123\n", "register", "alice", "--database-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered alice")

	_, err = run(t, "", "register", "alice", "--password", "other", "--database-url", url)
	assert.ErrorContains(t, err, "already registered")

	backend, err := store.Open(context.Background(), url, store.Options{})
	require.NoError(t, err)
	defer backend.Close()
	for _, text := range []string{"first", "second"} {
		_, err := backend.Append(context.Background(), chat.NewMessage("alice", text, ""))
		require.NoError(t, err)
	}

	out, err = run(t, "", "history", "--limit", "5", "--database-url", url)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "alice: first")
	assert.Contains(t, lines[1], "alice: second")
}

func TestGencert(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")

	out, err := run(t, "", "gencert", "--cert", certPath, "--key", keyPath, "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, certPath)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConnectRequiresSharedSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	_, err := run(t, "pw\n", "connect", "alice")
	assert.ErrorContains(t, err, "SECRET_KEY")
}

func TestServeRejectsBadBootstrapUser(t *testing.T) {
	_, err := run(t, "", "serve", "--port", "0", "--http-addr", "", "--user", "nocolon")
	assert.ErrorContains(t, err, "identity:password")
}
