package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KeyQueryHash records the hash of the query modules the snapshot was built
// with.
const KeyQueryHash = "query_hash"

// Meta returns the metadata value for key. ok is false when unset.
func (s *Store) Meta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("store: set meta %s: %w", key, err)
	}
	return nil
}

// EnsureQueryHash discards every snapshot when hash differs from the one
// recorded, then records hash. It reports whether snapshots were discarded.
func (s *Store) EnsureQueryHash(ctx context.Context, hash string) (bool, error) {
	prev, ok, err := s.Meta(ctx, KeyQueryHash)
	if err != nil {
		return false, err
	}
	if ok && prev == hash {
		return false, nil
	}
	discarded := false
	if ok {
		if err := s.Clear(ctx); err != nil {
			return false, err
		}
		discarded = true
	}
	if err := s.SetMeta(ctx, KeyQueryHash, hash); err != nil {
		return false, err
	}
	return discarded, nil
}
