package store

import (
	"context"
	"fmt"
	"time"
)

// GetAll returns every stored snapshot keyed by URI.
func (s *Store) GetAll(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT uri, data FROM symbol_snapshots")
	if err != nil {
		return nil, fmt.Errorf("store: query snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var uri string
		var data []byte
		if err := rows.Scan(&uri, &data); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out[uri] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate snapshots: %w", err)
	}
	return out, nil
}

// Insert writes or replaces snapshots in one transaction.
func (s *Store) Insert(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO symbol_snapshots (uri, data, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(uri) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at")
	if err != nil {
		return fmt.Errorf("store: insert: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for uri, data := range entries {
		if _, err := stmt.ExecContext(ctx, uri, data, now); err != nil {
			return fmt.Errorf("store: insert %s: %w", uri, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert: commit: %w", err)
	}
	return nil
}

// deleteChunk keeps IN lists under SQLite's host parameter limit.
const deleteChunk = 500

// Delete removes the snapshots of uris. Unknown URIs are ignored.
func (s *Store) Delete(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete: begin: %w", err)
	}
	defer tx.Rollback()

	for lo := 0; lo < len(uris); lo += deleteChunk {
		chunk := uris[lo:min(lo+deleteChunk, len(uris))]
		q := "DELETE FROM symbol_snapshots WHERE uri IN (" + placeholderList(len(chunk)) + ")"
		if _, err := tx.ExecContext(ctx, q, stringsToArgs(chunk)...); err != nil {
			return fmt.Errorf("store: delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete: commit: %w", err)
	}
	return nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbol_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Clear removes every snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM symbol_snapshots"); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}
