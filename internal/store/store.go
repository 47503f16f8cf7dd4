// Package store owns the relational connection, schema and transactions.
// Queries are written with ? placeholders and rebound for the active driver,
// so the same SQL runs on Postgres (lib/pq) and SQLite (go-sqlite3).
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ErrNotFound = errors.New("record not found")

//go:embed schema/*.sql
var schemaFS embed.FS

// Querier is satisfied by both *DB and *Tx.
type Querier interface {
	sqlx.ExtContext
}

// DB wraps a sqlx pool with tracing around transactions.
type DB struct {
	*sqlx.DB
	tracer trace.Tracer
}

// Open connects to dsn using driver. For SQLite, dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		if !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create db dir: %w", err)
				}
			}
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dsn)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A single connection serializes writers; transactions never see SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &DB{DB: db, tracer: otel.Tracer("boipoka/store")}, nil
}

// Migrate applies the schema for the active driver. It is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	name := "schema/sqlite.sql"
	if db.DriverName() == DriverPostgres {
		name = "schema/postgres.sql"
	}
	schema, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Tx is a transaction that can queue work to run once it commits.
type Tx struct {
	*sqlx.Tx
	driver      string
	afterCommit []func()
}

// AfterCommit registers fn to run after a successful commit.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// ForUpdate returns the row lock clause for the active driver. SQLite has
// no row locks; its single writer connection gives the same exclusion.
func (tx *Tx) ForUpdate() string {
	if tx.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, name string, fn func(ctx context.Context, tx *Tx) error) error {
	ctx, span := db.tracer.Start(ctx, "store.tx",
		trace.WithAttributes(attribute.String("tx.name", name)),
	)
	defer span.End()

	sqlTx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	tx := &Tx{Tx: sqlTx, driver: db.DriverName()}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	span.AddEvent("tx.committed")

	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// Get scans a single row into dest. A missing row is ErrNotFound.
func Get(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Select scans all rows into dest, which must be a pointer to a slice.
func Select(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

// Exec runs a statement and returns the number of affected rows.
func Exec(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsCheckViolation reports whether err is a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23514"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintCheck
	}
	return false
}
