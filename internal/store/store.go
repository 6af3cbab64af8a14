// Package store provides SQLite persistence for markets, market makers,
// tracked orders, fills, pending-fill events, quote history, and
// candidates (§6), plus the advisory_locks table backing
// scheduler.AdvisoryLocker for cross-process non-overlap.
//
// Grounded on ehrlich-b-trade's internal/store: same New/Migrate/Close
// shape, WAL pragmas for concurrent access, versioned migrations table.
// Supersedes the teacher's JSON-file position store, which had no
// schema, no migrations, and modeled one Position per market rather
// than this domain's per-(mm, outcome) inventory and per-order tracking.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store persists the bot's relational state in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (creating if absent) the database at dbPath and applies any
// pending migrations. Use ":memory:" for an ephemeral store (tests,
// one-off tooling); it is rewritten to a shared-cache DSN so multiple
// connections from the same process see the same data.
func New(dbPath string) (*Store, error) {
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for callers that need a raw
// query the typed accessors don't cover (e.g. ad hoc ops tooling).
func (s *Store) DB() *sql.DB { return s.db }
