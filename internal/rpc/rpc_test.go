package rpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"sealedchat/internal/auth"
	"sealedchat/internal/directory"
	"sealedchat/internal/domain"
	"sealedchat/internal/rpc"
	"sealedchat/internal/services/identity"
)

func dial(t *testing.T, backend domain.DirectoryStore, a *auth.Authority) *grpc.ClientConn {
	t.Helper()
	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(rpc.RecoverUnary(log), rpc.LoggingUnary(log)))
	rpc.RegisterDirectoryServer(s, rpc.NewServer(backend, a, log))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func bundle(t *testing.T) domain.PreKeyBundle {
	t.Helper()
	b, err := identity.New(nil, domain.TrustOnFirstUse).GeneratePreKeyBundle()
	require.NoError(t, err)
	return b
}

func TestRoundTripOverGRPC(t *testing.T) {
	ctx := context.Background()
	backend := directory.NewMemoryStore()
	c := directory.NewClient(rpc.NewStore(dial(t, backend, nil), ""), directory.WithRetry(1, 0))

	_, err := c.Fetch(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)

	b := bundle(t)
	require.NoError(t, c.Publish(ctx, "alice", b))
	assert.Equal(t, 1, backend.Len())
	got, err := c.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.Equal(got))

	require.NoError(t, c.Delete(ctx, "alice"))
	_, err = c.Fetch(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWritesRequireToken(t *testing.T) {
	ctx := context.Background()
	a := auth.New([]byte("secret"), time.Hour)
	conn := dial(t, directory.NewMemoryStore(), a)
	tok, _, err := a.Issue("alice")
	require.NoError(t, err)
	b := bundle(t)

	anon := directory.NewClient(rpc.NewStore(conn, ""), directory.WithRetry(3, time.Millisecond))
	require.ErrorIs(t, anon.Publish(ctx, "alice", b), domain.ErrUnauthorized)

	owner := directory.NewClient(rpc.NewStore(conn, tok), directory.WithRetry(1, 0))
	require.NoError(t, owner.Publish(ctx, "alice", b))
	require.ErrorIs(t, owner.Delete(ctx, "bob"), domain.ErrUnauthorized)

	got, err := anon.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, b.Equal(got))
}

func TestInvalidRequests(t *testing.T) {
	ctx := context.Background()
	conn := dial(t, directory.NewMemoryStore(), nil)

	err := conn.Invoke(ctx, "/"+rpc.ServiceName+"/Get", wrapperspb.String(""), new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req, err := structpb.NewStruct(map[string]any{"peer": "alice"})
	require.NoError(t, err)
	err = conn.Invoke(ctx, "/"+rpc.ServiceName+"/Set", req, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// panicStore panics on every read.
type panicStore struct{ *directory.MemoryStore }

func (panicStore) Get(context.Context, domain.PeerID) (domain.Fields, bool, error) {
	panic("boom")
}

// downStore fails every read as an outage.
type downStore struct{ *directory.MemoryStore }

func (downStore) Get(context.Context, domain.PeerID) (domain.Fields, bool, error) {
	return nil, false, domain.ErrDirectoryUnavailable
}

func TestServerFailures(t *testing.T) {
	ctx := context.Background()

	_, _, err := rpc.NewStore(dial(t, panicStore{directory.NewMemoryStore()}, nil), "").Get(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.False(t, domain.IsRetryable(err))

	_, _, err = rpc.NewStore(dial(t, downStore{directory.NewMemoryStore()}, nil), "").Get(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}
