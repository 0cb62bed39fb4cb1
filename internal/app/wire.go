package app

import (
	"context"

	"go.uber.org/zap"

	"sealedchat/internal/directory"
	"sealedchat/internal/domain"
	"sealedchat/internal/services/identity"
	"sealedchat/internal/services/lifecycle"
	"sealedchat/internal/services/session"
)

// Wire bundles the stores, services and clients of one device.
type Wire struct {
	Config    Config
	Log       *zap.Logger
	Identity  *identity.Store
	Sessions  *session.Manager
	Directory *directory.Client
	Lifecycle *lifecycle.Controller

	closeStore func() error
}

// NewWire validates cfg, opens the configured directory backend and
// constructs the dependency graph on top of it.
func NewWire(ctx context.Context, cfg Config, log *zap.Logger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	store, closeStore, err := OpenStore(ctx, cfg.Directory, log)
	if err != nil {
		return nil, err
	}
	return newWire(cfg, store, closeStore, log), nil
}

// NewWireWithStore is NewWire over an already open backend, which the caller
// keeps ownership of.
func NewWireWithStore(cfg Config, store domain.DirectoryStore, log *zap.Logger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return newWire(cfg, store, func() error { return nil }, log), nil
}

func newWire(cfg Config, store domain.DirectoryStore, closeStore func() error, log *zap.Logger) *Wire {
	log = log.With(zap.String("self", cfg.PeerID))
	dir := directory.NewClient(store,
		directory.WithLogger(log.Named("directory")),
		directory.WithTimeout(cfg.Directory.Timeout),
		directory.WithRetry(cfg.Directory.Retry.Attempts, cfg.Directory.Retry.BaseDelay))

	ids := identity.New(log.Named("identity"), domain.TrustMode(cfg.TrustMode))
	ids.SetDeviceID(cfg.DeviceID)
	sessions := session.New(ids, ids, log.Named("session"))
	ctl := lifecycle.New(domain.PeerID(cfg.PeerID), ids, dir, sessions, lifecycle.Options{
		KeepSignedPreKeys: cfg.PreKeys.KeepSigned,
		PreKeyPoolSize:    cfg.PreKeys.PoolSize,
	}, log.Named("lifecycle"))

	return &Wire{
		Config:     cfg,
		Log:        log,
		Identity:   ids,
		Sessions:   sessions,
		Directory:  dir,
		Lifecycle:  ctl,
		closeStore: closeStore,
	}
}

// Close releases the directory backend if the Wire opened it.
func (w *Wire) Close() error { return w.closeStore() }
