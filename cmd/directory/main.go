package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"sealedchat/internal/app"
	"sealedchat/internal/auth"
	"sealedchat/internal/domain"
	"sealedchat/internal/migrate"
	"sealedchat/internal/relay"
	"sealedchat/internal/rpc"
	"sealedchat/internal/storage/badgerstore"
)

func main() {
	httpAddr := flag.String("http", ":8080", "HTTP listen address (empty disables)")
	grpcAddr := flag.String("grpc", ":9090", "gRPC listen address (empty disables)")
	backend := flag.String("backend", app.BackendMemory, "bundle storage: memory, postgres, badger")
	dsn := flag.String("dsn", "", "PostgreSQL DSN")
	path := flag.String("path", "", "Badger directory (empty keeps data in memory)")
	jwtKey := flag.String("jwt-key", "", "HS256 key for write tokens (empty leaves writes open)")
	logLevel := flag.String("log-level", "info", "log level")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	logger, err := app.NewLogger(*logLevel, *dev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := app.Directory{Backend: *backend, DSN: *dsn, Path: *path}
	switch cfg.Backend {
	case app.BackendMemory, app.BackendBadger:
	case app.BackendPostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
	default:
		logger.Fatal("unsupported backend", zap.String("backend", cfg.Backend))
	}
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()
	if bs, ok := store.(*badgerstore.Store); ok {
		go bs.RunGC(ctx, 10*time.Minute)
	}

	var authority *auth.Authority
	if *jwtKey != "" {
		authority = auth.New([]byte(*jwtKey), 0)
	} else {
		logger.Warn("no --jwt-key: directory writes are unauthenticated")
	}

	errCh := make(chan error, 2)
	var httpSrv *http.Server
	if *httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              *httpAddr,
			Handler:           relay.AccessLog(logger.Named("http"), relay.NewHandler(store, authority, logger.Named("http"))),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", *httpAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var grpcSrv *grpc.Server
	if *grpcAddr != "" {
		grpcSrv = newGRPCServer(store, authority, logger, *dev)
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", *grpcAddr))
			errCh <- grpcSrv.Serve(lis)
		}()
	}

	failed := false
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		failed = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
	}
	logger.Info("shutdown complete")
	if failed {
		_ = logger.Sync()
		_ = closeStore()
		os.Exit(1)
	}
}

func newGRPCServer(store domain.DirectoryStore, authority *auth.Authority, logger *zap.Logger, dev bool) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		rpc.RecoverUnary(logger),
		rpc.LoggingUnary(logger.Named("grpc")),
	))
	rpc.RegisterDirectoryServer(s, rpc.NewServer(store, authority, logger.Named("grpc")))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if dev {
		reflection.Register(s)
	}
	return s
}
