package store

import "fmt"

// Migration is one ordered schema step. New migrations are appended with
// incrementing version numbers; existing ones are never edited.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
		CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			yes_token_id TEXT NOT NULL,
			no_token_id TEXT NOT NULL,
			question TEXT NOT NULL DEFAULT '',
			end_time DATETIME,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS market_makers (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL REFERENCES markets(id),
			quoting_policy TEXT NOT NULL,
			spread TEXT NOT NULL,
			order_size TEXT NOT NULL,
			max_inventory TEXT NOT NULL,
			skew_factor TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			paused BOOLEAN NOT NULL DEFAULT 0,
			pause_reason TEXT NOT NULL DEFAULT '',
			yes_inventory TEXT NOT NULL DEFAULT '0',
			no_inventory TEXT NOT NULL DEFAULT '0',
			avg_yes_cost TEXT NOT NULL DEFAULT '0',
			avg_no_cost TEXT NOT NULL DEFAULT '0',
			realized_pnl TEXT NOT NULL DEFAULT '0',
			last_quote_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS tracked_orders (
			order_id TEXT PRIMARY KEY,
			client_order_id TEXT NOT NULL DEFAULT '',
			order_group_id TEXT NOT NULL DEFAULT '',
			mm_id TEXT NOT NULL REFERENCES market_makers(id),
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			token_id TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			last_matched_size TEXT NOT NULL DEFAULT '0',
			has_matched BOOLEAN NOT NULL DEFAULT 0,
			placed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(mm_id, outcome, side, tier)
		);

		CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			mm_id TEXT NOT NULL REFERENCES market_makers(id),
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			value TEXT NOT NULL,
			realized_pnl_delta TEXT NOT NULL DEFAULT '0',
			filled_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS pending_fill_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL,
			matched_total TEXT NOT NULL,
			mm_id TEXT NOT NULL REFERENCES market_makers(id),
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			delta TEXT NOT NULL,
			price TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			source TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			resolved_at DATETIME,
			UNIQUE(order_id, matched_total)
		);

		CREATE TABLE IF NOT EXISTS quote_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mm_id TEXT NOT NULL REFERENCES market_makers(id),
			kind TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS candidates (
			market_id TEXT PRIMARY KEY REFERENCES markets(id),
			total_score REAL NOT NULL,
			queue_speed_score REAL NOT NULL DEFAULT 0,
			liquidity_score REAL NOT NULL DEFAULT 0,
			flow_score REAL NOT NULL DEFAULT 0,
			time_score REAL NOT NULL DEFAULT 0,
			price_zone_score REAL NOT NULL DEFAULT 0,
			queue_depth_score REAL NOT NULL DEFAULT 0,
			disqualified BOOLEAN NOT NULL DEFAULT 0,
			disqualify_reason TEXT NOT NULL DEFAULT '',
			scanned_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS advisory_locks (
			job_name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tracked_orders_mm ON tracked_orders(mm_id, outcome);
		CREATE INDEX IF NOT EXISTS idx_fills_mm ON fills(mm_id, outcome);
		CREATE INDEX IF NOT EXISTS idx_pending_fill_mm ON pending_fill_events(mm_id, outcome, status);
		CREATE INDEX IF NOT EXISTS idx_quote_history_mm ON quote_history(mm_id, created_at);
		`,
	},
}

func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate applies every migration newer than the currently-recorded
// schema version, each inside its own transaction.
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("store: init migrations table: %w", err)
	}

	current, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("store: current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("store: migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}
