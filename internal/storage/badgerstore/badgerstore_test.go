package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sealedchat/internal/directory"
	"sealedchat/internal/domain"
	"sealedchat/internal/services/identity"
)

func open(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestBundleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t, "")
	defer s.Close()
	c := directory.NewClient(s)

	b, err := identity.New(nil, domain.TrustOnFirstUse).GeneratePreKeyBundle()
	require.NoError(t, err)

	_, err = c.Fetch(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, c.Publish(ctx, "alice", b))
	got, err := c.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.Equal(got))

	require.NoError(t, c.Delete(ctx, "alice"))
	require.NoError(t, c.Delete(ctx, "alice"))
	_, err = c.Fetch(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	require.NoError(t, s.Set(ctx, "alice", domain.Fields{"deviceId": 1}))
	require.NoError(t, s.Set(ctx, "bob", domain.Fields{"deviceId": 2}))
	require.NoError(t, s.Close())

	s = open(t, dir)
	defer s.Close()
	f, ok, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, f["deviceId"])

	peers, err := s.Peers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, peers)
}

func TestCancelledContext(t *testing.T) {
	s := open(t, "")
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "alice")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.Set(ctx, "alice", domain.Fields{}), context.Canceled)
}
