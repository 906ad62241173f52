// Package anchor provides a SQLite-backed trust anchor store: a small local
// database that outlives sessions and holds the integrity root each vault was
// last known to have. Keeping it on the client device, outside the synced
// vault storage, is what makes the root trustworthy when storage is not.
package anchor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	keyfold "github.com/keyfold/client-go"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Compile-time interface guard.
var _ keyfold.TrustAnchorStore = (*Store)(nil)

// Store implements keyfold.TrustAnchorStore on a local SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the anchor database at path and applies the
// recommended pragmas. Use ":memory:" for a throwaway store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection; WAL still
	// allows concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires pragmas as SQL statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS integrity_roots (
		anchor_id  TEXT PRIMARY KEY,
		root       TEXT NOT NULL,
		version    INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the persisted root and version for anchorID, or
// keyfold.ErrAnchorNotFound when no root has been established.
func (s *Store) Root(ctx context.Context, anchorID string) (string, int64, error) {
	var root string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT root, version FROM integrity_roots WHERE anchor_id = ?`,
		anchorID,
	).Scan(&root, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, keyfold.ErrAnchorNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("query root: %w", err)
	}
	return root, version, nil
}

// SetRoot stores root under compare-and-set semantics: expectedVersion must
// match the stored version, with 0 meaning "no root stored yet". Each write
// is a single statement, so two devices racing on the same anchor resolve to
// exactly one winner; the loser gets keyfold.ErrAnchorConflict.
func (s *Store) SetRoot(ctx context.Context, anchorID, root string, expectedVersion int64) error {
	now := time.Now().Unix()

	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO integrity_roots (anchor_id, root, version, updated_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT(anchor_id) DO NOTHING`,
			anchorID, root, now,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE integrity_roots
			 SET root = ?, version = version + 1, updated_at = ?
			 WHERE anchor_id = ? AND version = ?`,
			root, now, anchorID, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("set root: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set root: %w", err)
	}
	if affected == 0 {
		return keyfold.ErrAnchorConflict
	}
	return nil
}

// ClearRoot deletes the persisted root. Clearing an absent root is a no-op.
func (s *Store) ClearRoot(ctx context.Context, anchorID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM integrity_roots WHERE anchor_id = ?`, anchorID,
	); err != nil {
		return fmt.Errorf("clear root: %w", err)
	}
	return nil
}
