package store

import (
	"fmt"
	"strings"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
//
// {serial}, {timestamp} and {sortable} are replaced per dialect. Amounts are
// stored as 0x-prefixed hex; prices are 64-digit padded hex compared
// bytewise so ORDER BY price is numeric order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Users and sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at {timestamp} DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			expires_at {timestamp} NOT NULL,
			created_at {timestamp} DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
		`,
	},
	{
		Version:     2,
		Description: "Balances, orders and pools",
		SQL: `
		CREATE TABLE IF NOT EXISTS balances (
			user_id TEXT NOT NULL,
			coin TEXT NOT NULL,
			balance TEXT NOT NULL,
			PRIMARY KEY (user_id, coin)
		);

		CREATE TABLE IF NOT EXISTS orders (
			id {serial},
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT {sortable} NOT NULL,
			initial_amount TEXT NOT NULL,
			total_cost TEXT NOT NULL,
			amount TEXT NOT NULL,
			placed_by TEXT NOT NULL,
			created_at BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_orders_book ON orders(pair, side, price, id);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(placed_by);

		CREATE TABLE IF NOT EXISTS pools (
			pair TEXT PRIMARY KEY,
			reserve0 TEXT NOT NULL,
			reserve1 TEXT NOT NULL,
			total_supply TEXT NOT NULL
		);
		`,
	},
	{
		Version:     3,
		Description: "Trades and candles",
		SQL: `
		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			amount TEXT NOT NULL,
			quote TEXT NOT NULL,
			taker TEXT NOT NULL,
			maker TEXT NOT NULL,
			maker_order BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair, created_at);
		CREATE INDEX IF NOT EXISTS idx_trades_taker ON trades(taker);

		CREATE TABLE IF NOT EXISTS candles (
			pair TEXT NOT NULL,
			interval_secs BIGINT NOT NULL,
			start_time BIGINT NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			updates BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (pair, interval_secs, start_time)
		);
		`,
	},
	{
		Version:     4,
		Description: "Chain transfers",
		SQL: `
		CREATE TABLE IF NOT EXISTS transfers (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			coin TEXT NOT NULL,
			amount TEXT NOT NULL,
			kind TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			tx_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status);
		CREATE INDEX IF NOT EXISTS idx_transfers_user ON transfers(user_id);
		`,
	},
	{
		Version:     5,
		Description: "One transfer per chain transaction",
		SQL: `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_transfers_tx_hash ON transfers(tx_hash) WHERE tx_hash <> '';
		`,
	},
}

// expand fills in dialect tokens.
func (d Dialect) expand(sql string) string {
	r := strings.NewReplacer(
		"{serial}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{timestamp}", "DATETIME",
		"{sortable}", "COLLATE BINARY",
	)
	if d == Postgres {
		r = strings.NewReplacer(
			"{serial}", "BIGSERIAL PRIMARY KEY",
			"{timestamp}", "TIMESTAMPTZ",
			"{sortable}", `COLLATE "C"`,
		)
	}
	return r.Replace(sql)
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(s.dialect.expand(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at {timestamp} DEFAULT CURRENT_TIMESTAMP
		)
	`))
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// pgx runs a multi-statement string only without arguments, so the
	// schema and the bookkeeping insert are separate calls.
	if _, err := tx.Exec(s.dialect.expand(m.SQL)); err != nil {
		return err
	}

	if _, err := tx.Exec(
		s.dialect.rebind("INSERT INTO schema_migrations (version, description) VALUES (?, ?)"),
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}
