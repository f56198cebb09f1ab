package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect covers the SQL differences between the supported databases.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps a driver name from configuration to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite", "":
		return SQLite, nil
	case "postgres", "pgx":
		return Postgres, nil
	}
	return 0, fmt.Errorf("unsupported database driver %q", driver)
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders for the dialect.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is appended to locking reads. SQLite has no row locks; its
// immediate transactions already hold the database write lock.
func (d Dialect) forUpdate() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// Store provides persistence for the exchange
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New opens a SQLite database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	return Open("sqlite", dbPath)
}

// Open connects with the given driver and runs pending migrations.
func Open(driver, dsn string) (*Store, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driverName(), dsn)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// Tx is one settlement transaction. Locking reads hold their rows until
// Commit or Rollback.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dialect: s.dialect}, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback is safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// requireOne fails unless exactly one row was affected.
func requireOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
