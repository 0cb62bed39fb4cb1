package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"sealedchat/internal/domain"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultAttempts  = 3
	DefaultBaseDelay = 200 * time.Millisecond
)

// Client publishes and fetches bundles through a domain.DirectoryStore.
type Client struct {
	store     domain.DirectoryStore
	log       *zap.Logger
	timeout   time.Duration
	retries   uint64
	baseDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTimeout bounds every single store call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many attempts are made in total for retryable failures
// and the initial backoff between them. attempts <= 1 disables retrying.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.retries = uint64(attempts - 1)
		if base > 0 {
			c.baseDelay = base
		}
	}
}

// NewClient wraps store.
func NewClient(store domain.DirectoryStore, opts ...Option) *Client {
	c := &Client{
		store:     store,
		log:       zap.NewNop(),
		timeout:   DefaultTimeout,
		retries:   DefaultAttempts - 1,
		baseDelay: DefaultBaseDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Publish writes bundle under peer, replacing any previous bundle.
func (c *Client) Publish(ctx context.Context, peer domain.PeerID, bundle domain.PreKeyBundle) error {
	fields := ToFields(bundle)
	return c.do(ctx, "publish", peer, func(ctx context.Context) error {
		return c.store.Set(ctx, peer, fields)
	})
}

// Fetch reads the bundle published by peer. It returns domain.ErrNotFound if
// there is none and domain.ErrMalformedBundle if it cannot be decoded.
func (c *Client) Fetch(ctx context.Context, peer domain.PeerID) (domain.PreKeyBundle, error) {
	var (
		fields domain.Fields
		found  bool
	)
	err := c.do(ctx, "fetch", peer, func(ctx context.Context) error {
		var err error
		fields, found, err = c.store.Get(ctx, peer)
		return err
	})
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !found {
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %s", domain.ErrNotFound, peer)
	}
	b, err := FromFields(fields)
	if err != nil {
		c.log.Warn("malformed bundle in directory", zap.String("peer", peer.String()), zap.Error(err))
		return domain.PreKeyBundle{}, err
	}
	return b, nil
}

// Delete removes the bundle of peer. Deleting an absent bundle succeeds.
func (c *Client) Delete(ctx context.Context, peer domain.PeerID) error {
	return c.do(ctx, "delete", peer, func(ctx context.Context) error {
		return c.store.Delete(ctx, peer)
	})
}

func (c *Client) do(ctx context.Context, op string, peer domain.PeerID, fn func(context.Context) error) error {
	b := retry.NewExponential(c.baseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(c.retries, b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		// A call that ran out its own deadline counts as an outage; the
		// caller's cancellation does not.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsRetryable(err) {
			err = fmt.Errorf("%w: %s timed out: %v", domain.ErrDirectoryUnavailable, op, err)
		}
		if !domain.IsRetryable(err) {
			return err
		}
		c.log.Warn("directory call failed",
			zap.String("op", op),
			zap.String("peer", peer.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return retry.RetryableError(err)
	})
}
