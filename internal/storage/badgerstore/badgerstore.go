// Package badgerstore keeps directory records in an embedded Badger database.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"sealedchat/internal/domain"
)

const prefixBundle = "bundle/"

// Store is a domain.DirectoryStore on top of Badger.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// Open opens (or creates) the database in dir. An empty dir keeps all data
// in memory.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(zapLogger{log.Named("badger").Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

var _ domain.DirectoryStore = (*Store)(nil)

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func bundleKey(peer domain.PeerID) []byte { return []byte(prefixBundle + string(peer)) }

func (s *Store) Get(ctx context.Context, peer domain.PeerID) (domain.Fields, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var f domain.Fields
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bundleKey(peer))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &f)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%w: read bundle: %v", domain.ErrDirectoryUnavailable, err)
	}
	return f, true, nil
}

func (s *Store) Set(ctx context.Context, peer domain.PeerID, fields domain.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedBundle, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bundleKey(peer), data)
	})
	if err != nil {
		return fmt.Errorf("%w: persist bundle: %v", domain.ErrDirectoryUnavailable, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, peer domain.PeerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(bundleKey(peer))
	})
	if err != nil {
		return fmt.Errorf("%w: delete bundle: %v", domain.ErrDirectoryUnavailable, err)
	}
	return nil
}

// Peers lists every peer with a stored bundle.
func (s *Store) Peers() ([]domain.PeerID, error) {
	var out []domain.PeerID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixBundle)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, domain.PeerID(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// RunGC reclaims value log space every interval until ctx ends.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.log.Warn("value log gc", zap.Error(err))
					}
					break
				}
			}
		}
	}
}

// zapLogger adapts zap to badger.Logger.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Errorf(f string, v ...any)   { l.s.Errorf(f, v...) }
func (l zapLogger) Warningf(f string, v ...any) { l.s.Warnf(f, v...) }
func (l zapLogger) Infof(f string, v ...any)    { l.s.Debugf(f, v...) }
func (l zapLogger) Debugf(f string, v ...any)   { l.s.Debugf(f, v...) }
