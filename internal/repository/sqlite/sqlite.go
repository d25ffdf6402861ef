// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so `go build` is all a deploy needs.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB  : a connection pool (NOT a single connection!)
//   - sql.Tx  : a transaction, pinned to one connection until Commit/Rollback
//   - sql.Row : a single result row
//   - sql.Rows: multiple result rows (must be closed!)
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	// Importing the package also registers the database/sql driver named
	// "sqlite" from its init().
	modernc "modernc.org/sqlite"

	"github.com/sakif/cycleconnect/internal/repository/sqlite/migrations"
)

// UNICODE CASE FOLDING:
// SQLite's built-in lower() only folds ASCII, so "ZÜRICH" would not match
// "Zürich". ulower(x) is strings.ToLower exposed as a SQL function; the
// ride filters use it on both sides of instr().
func init() {
	modernc.MustRegisterDeterministicScalarFunction("ulower", 1, ulower)
}

func ulower(_ *modernc.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// CONNECTION PRAGMAS:
// These are passed through the DSN so modernc applies them to EVERY pooled
// connection, not only the first one (a plain `PRAGMA` exec would only hit
// whichever connection happened to run it).
//
//   - busy_timeout(5000): a second writer waits up to 5s for the lock
//     instead of failing immediately with SQLITE_BUSY. It comes first so the
//     pragmas after it already benefit from it.
//   - foreign_keys(1):   SQLite ships with FK enforcement off.
//   - journal_mode(WAL): readers don't block the single writer.
//   - _txlock=immediate: BEGIN takes the write lock up front. Two concurrent
//     joins can then never both read the same participant count; the second
//     one queues behind the first.
const pragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

// New opens the database at dbPath and brings the schema up to date.
//
// dbPath examples:
//   - "data/cycleconnect.db" → file-based database (persistent)
//   - ":memory:"             → in-memory database (tests)
func New(ctx context.Context, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// IN-MEMORY DATABASES ARE PER CONNECTION:
	// Every new connection to ":memory:" gets its own empty database. Pinning
	// the pool to one connection keeps all queries on the migrated schema.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies the embedded goose migrations.
//
// goose records every applied version in its goose_db_version table, so
// running this on every start is a no-op once the schema is current.
func (db *DB) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.conn, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + pragmas
}

func isMemory(dbPath string) bool {
	return strings.HasPrefix(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}

// withTx runs fn inside a transaction and commits if fn returns nil.
//
// DEFERRED ROLLBACK:
// Rollback after a successful Commit returns sql.ErrTxDone and does nothing,
// so deferring it unconditionally is safe and covers every early return
// (and panics) inside fn.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// modernc surfaces constraint failures as *sqlite.Error whose message
// contains the SQLite text "UNIQUE constraint failed: table.column".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// boolToInt is needed because SQLite has no BOOLEAN type; 0/1 INTEGERs stand in.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
