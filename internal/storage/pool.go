// Package storage provides the metadata store for tsuiseki.
//
// A DB is backed either by a SQLite file (the local, single-host store) or
// by PostgreSQL (the shared store behind a tracking server). Both are driven
// through database/sql; queries are written once with '?' placeholders and
// rebound for the active dialect. Every mutating method runs in a single
// transaction and is retried on lock contention.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLiteFileName is the database file created under a local store root.
const SQLiteFileName = "tracking.db"

// Retry policy for lock contention.
const (
	maxRetries = 5
	retryDelay = 20 * time.Millisecond
)

// DB wraps a *sql.DB together with the dialect its SQL must be rendered in.
type DB struct {
	sql     *sql.DB
	dialect Dialect
	logger  *slog.Logger
	now     func() time.Time
}

// New opens a metadata store.
//
// uri is either a PostgreSQL DSN (postgres:// or postgresql://) or a local
// store location: a directory path or a file:// URI naming a directory, in
// which tracking.db is created.
func New(ctx context.Context, uri string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		driver, dsn string
		dialect     Dialect
	)
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		driver, dsn, dialect = "pgx", uri, DialectPostgres
	default:
		dir, err := LocalPath(uri)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create store dir: %w", err)
		}
		driver, dialect = "sqlite", DialectSQLite
		dsn = sqliteDSN(filepath.Join(dir, SQLiteFileName))
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer at a time; readers share the WAL.
		sqlDB.SetMaxOpenConns(4)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", dialect, err)
	}

	return &DB{
		sql:     sqlDB,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// LocalPath converts a local store URI (a path or file:// URI) to a
// filesystem directory. An empty uri selects ./tsuiseki-data.
func LocalPath(uri string) (string, error) {
	if uri == "" {
		return "tsuiseki-data", nil
	}
	if !strings.Contains(uri, "://") {
		return filepath.Clean(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("storage: parse store uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("storage: unsupported store scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "foreign_keys(on)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Dialect reports which backend the store is running on.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Close releases all connections.
func (db *DB) Close() error {
	return db.sql.Close()
}

// rebind rewrites '?' placeholders as $1, $2, ... for Postgres.
// Queries never contain literal question marks.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier to the dialect so call sites never rebind by hand.
type conn struct {
	q  querier
	db *DB
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.db.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.db.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.db.rebind(query), args...)
}

func (db *DB) reader() conn {
	return conn{q: db.sql, db: db}
}

// inTx runs fn in a transaction, committing on nil and rolling back
// otherwise. The whole transaction is retried on lock contention.
func (db *DB) inTx(ctx context.Context, fn func(c conn) error) error {
	return WithRetry(ctx, maxRetries, retryDelay, func() error {
		tx, err := db.sql.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(conn{q: tx, db: db}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// forUpdate returns the row-lock suffix for SELECTs that guard a
// read-modify-write. SQLite transactions are already exclusive for writers.
func (db *DB) forUpdate() string {
	if db.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}
