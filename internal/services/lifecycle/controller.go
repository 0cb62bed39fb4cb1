package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sealedchat/internal/domain"
)

// KeySource mints bundles for publication and rotates old pre-keys.
type KeySource interface {
	GeneratePreKeyBundle() (domain.PreKeyBundle, error)
	PruneSignedPreKeys(keep int) int
	PrunePreKeys(keep int) int
}

// Directory publishes and fetches bundles.
type Directory interface {
	Publish(ctx context.Context, peer domain.PeerID, bundle domain.PreKeyBundle) error
	Fetch(ctx context.Context, peer domain.PeerID) (domain.PreKeyBundle, error)
	Delete(ctx context.Context, peer domain.PeerID) error
}

// Sessions establishes and uses pairwise sessions.
type Sessions interface {
	HasSession(peer domain.PeerID) bool
	EstablishSession(peer domain.PeerID, bundle domain.PreKeyBundle) error
	Encrypt(peer domain.PeerID, plaintext []byte) ([]byte, error)
	Decrypt(peer domain.PeerID, ciphertext []byte) ([]byte, error)
}

// Status is the state of the session with one peer.
type Status int

const (
	SessionMissing Status = iota
	SessionReady
	SessionFailed
)

func (s Status) String() string {
	switch s {
	case SessionReady:
		return "ready"
	case SessionFailed:
		return "failed"
	default:
		return "missing"
	}
}

// Received is the outcome of handling one inbound ciphertext.
type Received struct {
	Peer      domain.PeerID
	Plaintext []byte
	// Undecryptable marks a message that arrived but could not be opened;
	// it is shown to the user as such rather than dropped.
	Undecryptable bool
}

// Options tune pre-key rotation after each publication.
type Options struct {
	// KeepSignedPreKeys is how many signed pre-keys survive a publication.
	KeepSignedPreKeys int
	// PreKeyPoolSize is how many unused one-time pre-keys survive a
	// publication.
	PreKeyPoolSize int
	// SetupTimeout bounds one shared session setup, which outlives the
	// cancellation of any single caller.
	SetupTimeout time.Duration
}

// DefaultOptions keeps a few generations so peers holding a slightly stale
// bundle can still reach us.
var DefaultOptions = Options{KeepSignedPreKeys: 3, PreKeyPoolSize: 100, SetupTimeout: 30 * time.Second}

// Controller publishes the local bundle and sets up sessions on demand.
type Controller struct {
	self     domain.PeerID
	keys     KeySource
	dir      Directory
	sessions Sessions
	opts     Options
	log      *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	last     *domain.PreKeyBundle
	failures map[domain.PeerID]error
}

// New returns a Controller acting for self.
func New(self domain.PeerID, keys KeySource, dir Directory, sessions Sessions, opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.KeepSignedPreKeys < 1 {
		opts.KeepSignedPreKeys = DefaultOptions.KeepSignedPreKeys
	}
	if opts.PreKeyPoolSize < 1 {
		opts.PreKeyPoolSize = DefaultOptions.PreKeyPoolSize
	}
	if opts.SetupTimeout <= 0 {
		opts.SetupTimeout = DefaultOptions.SetupTimeout
	}
	return &Controller{
		self:     self,
		keys:     keys,
		dir:      dir,
		sessions: sessions,
		opts:     opts,
		log:      log.With(zap.String("self", self.String())),
		failures: make(map[domain.PeerID]error),
	}
}

// Self returns the peer id bundles are published under.
func (c *Controller) Self() domain.PeerID { return c.self }

// PublishOwnBundle generates a fresh bundle and publishes it. If publishing
// fails the bundle and its private keys are kept and RetryPublish sends the
// same bundle again.
func (c *Controller) PublishOwnBundle(ctx context.Context) (domain.PreKeyBundle, error) {
	b, err := c.keys.GeneratePreKeyBundle()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	c.mu.Lock()
	c.last = &b
	c.mu.Unlock()
	return b, c.publish(ctx, b)
}

// RetryPublish republishes the last generated bundle, generating one only
// if none exists yet.
func (c *Controller) RetryPublish(ctx context.Context) (domain.PreKeyBundle, error) {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return c.PublishOwnBundle(ctx)
	}
	return *last, c.publish(ctx, *last)
}

// LastBundle returns the most recently generated bundle.
func (c *Controller) LastBundle() (domain.PreKeyBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.PreKeyBundle{}, false
	}
	return *c.last, true
}

func (c *Controller) publish(ctx context.Context, b domain.PreKeyBundle) error {
	if err := c.dir.Publish(ctx, c.self, b); err != nil {
		c.log.Warn("bundle publication failed",
			zap.Uint32("pre_key_id", b.PreKeyID),
			zap.Uint32("signed_pre_key_id", b.SignedPreKeyID),
			zap.Error(err))
		return err
	}
	signed := c.keys.PruneSignedPreKeys(c.opts.KeepSignedPreKeys)
	oneTime := c.keys.PrunePreKeys(c.opts.PreKeyPoolSize)
	c.log.Info("bundle published",
		zap.Uint32("pre_key_id", b.PreKeyID),
		zap.Uint32("signed_pre_key_id", b.SignedPreKeyID),
		zap.Int("pruned_signed", signed),
		zap.Int("pruned_one_time", oneTime))
	return nil
}

// Unpublish removes the local bundle from the directory, e.g. on logout.
// Local key material and sessions are left alone.
func (c *Controller) Unpublish(ctx context.Context) error {
	if err := c.dir.Delete(ctx, c.self); err != nil {
		return err
	}
	c.log.Info("bundle unpublished")
	return nil
}

// EnsureSession makes sure a session with peer exists, fetching its bundle
// and establishing one if needed. Concurrent calls for the same peer share a
// single attempt; a caller whose ctx ends stops waiting with ctx.Err() while
// the attempt carries on for the others.
func (c *Controller) EnsureSession(ctx context.Context, peer domain.PeerID) error {
	if c.sessions.HasSession(peer) {
		return nil
	}
	ch := c.group.DoChan(string(peer), func() (any, error) {
		if c.sessions.HasSession(peer) {
			return nil, nil
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.SetupTimeout)
		defer cancel()
		err := c.establish(sctx, peer)
		c.record(peer, err)
		return nil, err
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.log.Debug("joined in-flight session setup", zap.String("peer", peer.String()))
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record keeps the outcome of a setup attempt for Status. Cancellations and
// deadlines say nothing about the peer and are not kept.
func (c *Controller) record(peer domain.PeerID, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures[peer] = err
	} else {
		delete(c.failures, peer)
	}
}

func (c *Controller) establish(ctx context.Context, peer domain.PeerID) error {
	b, err := c.dir.Fetch(ctx, peer)
	if err != nil {
		c.log.Warn("bundle fetch failed", zap.String("peer", peer.String()), zap.Error(err))
		return err
	}
	if err := c.sessions.EstablishSession(peer, b); err != nil {
		c.log.Warn("cannot establish secure session", zap.String("peer", peer.String()), zap.Error(err))
		return err
	}
	return nil
}

// Send ensures a session with peer and encrypts plaintext for it.
func (c *Controller) Send(ctx context.Context, peer domain.PeerID, plaintext []byte) ([]byte, error) {
	if err := c.EnsureSession(ctx, peer); err != nil {
		return nil, err
	}
	return c.sessions.Encrypt(peer, plaintext)
}

// Receive decrypts a ciphertext from peer. A message that fails to decrypt
// is reported as Undecryptable instead of as an error; other errors (such as
// domain.ErrNoSession) are returned.
func (c *Controller) Receive(peer domain.PeerID, ciphertext []byte) (Received, error) {
	pt, err := c.sessions.Decrypt(peer, ciphertext)
	switch {
	case err == nil:
		return Received{Peer: peer, Plaintext: pt}, nil
	case errors.Is(err, domain.ErrDecryption):
		c.log.Warn("undecryptable message", zap.String("peer", peer.String()), zap.Error(err))
		return Received{Peer: peer, Undecryptable: true}, nil
	default:
		return Received{}, err
	}
}

// Status reports the session state with peer.
func (c *Controller) Status(peer domain.PeerID) Status {
	if c.sessions.HasSession(peer) {
		return SessionReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures[peer] != nil {
		return SessionFailed
	}
	return SessionMissing
}

// LastError returns the error of the last failed attempt to set up a session
// with peer, or nil.
func (c *Controller) LastError(peer domain.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[peer]
}
