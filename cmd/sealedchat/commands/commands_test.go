package commands

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealedchat/internal/domain"
)

// run executes one sealedchat invocation and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config", filepath.Join(t.TempDir(), "absent.yaml"),
		"--log-level", "error",
	}, args...))
	err := execute(context.Background(), root)
	return out.String(), err
}

func TestPublishFetchDelete(t *testing.T) {
	dir := t.TempDir()
	backend := []string{"--backend", "badger", "--path", dir}

	out, err := run(t, append([]string{"publish", "--peer", "alice"}, backend...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Published bundle for alice")

	out, err = run(t, append([]string{"fetch", "alice"}, backend...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Peer:            alice")
	assert.Contains(t, out, "(signature valid)")
	assert.Contains(t, out, "Fingerprint:")

	_, err = run(t, append([]string{"delete", "--peer", "alice"}, backend...)...)
	require.NoError(t, err)

	_, err = run(t, append([]string{"fetch", "alice"}, backend...)...)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, wire, "wire is released after a failed command")

	// The store was closed, so a later invocation can open it again.
	_, err = run(t, append([]string{"publish", "--peer", "alice"}, backend...)...)
	require.NoError(t, err)
}

func TestPublishRequiresPeer(t *testing.T) {
	_, err := run(t, "publish", "--backend", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer id is required")
}

func TestHandshakeInMemory(t *testing.T) {
	out, err := run(t, "handshake", "bob", "--peer", "alice", "--backend", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "bob received: hello")
	assert.Contains(t, out, "alice received: world")
	assert.Contains(t, out, "Safety number:")
}

func TestTokenRequiresKey(t *testing.T) {
	_, err := run(t, "token", "alice")
	require.Error(t, err)

	out, err := run(t, "token", "alice", "--jwt-key", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
