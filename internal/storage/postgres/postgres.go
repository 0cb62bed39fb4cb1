// Package postgres keeps directory records in the key_bundles table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sealedchat/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool the store uses. pgxmock.PgxPoolIface
// implements it too.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store is a domain.DirectoryStore on PostgreSQL.
type Store struct{ Pool PgxPool }

// New connects to dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

var _ domain.DirectoryStore = (*Store)(nil)

// Close closes the underlying pool.
func (s *Store) Close() { s.Pool.Close() }

func (s *Store) Get(ctx context.Context, peer domain.PeerID) (domain.Fields, bool, error) {
	const q = `SELECT fields FROM key_bundles WHERE peer_id=$1`
	var raw []byte
	if err := s.Pool.QueryRow(ctx, q, string(peer)).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrap(ctx, "select bundle", err)
	}
	var f domain.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, fmt.Errorf("%w: stored record: %v", domain.ErrMalformedBundle, err)
	}
	return f, true, nil
}

func (s *Store) Set(ctx context.Context, peer domain.PeerID, fields domain.Fields) error {
	const q = `
INSERT INTO key_bundles (peer_id, fields, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (peer_id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedBundle, err)
	}
	if _, err := s.Pool.Exec(ctx, q, string(peer), raw); err != nil {
		return wrap(ctx, "upsert bundle", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, peer domain.PeerID) error {
	const q = `DELETE FROM key_bundles WHERE peer_id=$1`
	if _, err := s.Pool.Exec(ctx, q, string(peer)); err != nil {
		return wrap(ctx, "delete bundle", err)
	}
	return nil
}

// wrap marks database failures as retryable outages unless the caller's
// context ended or the server rejected the statement outright.
func wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) && pg.Code == "42501" {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnauthorized, op, err)
	}
	if errors.As(err, &pg) && !isTransient(pg.Code) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDirectoryUnavailable, op, err)
}

// isTransient reports whether SQLSTATE code is a connection, resource or
// serialization class error.
func isTransient(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57", "40":
		return true
	}
	return false
}
