package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"sealedchat/internal/directory"
	"sealedchat/internal/domain"
	"sealedchat/internal/relay"
	"sealedchat/internal/rpc"
	"sealedchat/internal/storage/badgerstore"
	"sealedchat/internal/storage/postgres"
)

// OpenStore opens the directory backend described by cfg. The returned
// function releases it.
func OpenStore(ctx context.Context, cfg Directory, log *zap.Logger) (domain.DirectoryStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case BackendMemory, "":
		return directory.NewMemoryStore(), noop, nil
	case BackendHTTP:
		return relay.NewStore(cfg.URL, cfg.Token), noop, nil
	case BackendGRPC:
		conn, err := grpc.NewClient(cfg.URL, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dial directory: %w", err)
		}
		return rpc.NewStore(conn, cfg.Token), conn.Close, nil
	case BackendPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil
	case BackendBadger:
		s, err := badgerstore.Open(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
}
