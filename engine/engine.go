// Package engine owns the single *sql.DB handle used to talk to the
// embedded SQLite engine. The engine itself (out of scope per spec.md §1) is
// an external collaborator; this package is only the binding to it.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Engine wraps the embedded SQLite connection the library owns exclusively
// (spec.md §5 "The engine connection is owned by the library; callers must
// not mutate it directly").
type Engine struct {
	db *sql.DB
}

// Open opens path with WAL journaling, foreign keys enforcement, and a busy
// timeout, following the pragma-via-DSN idiom used across the example
// corpus (e.g. hazyhaar-GoClode's internal/core/db.go). path may be
// ":memory:" or "file::memory:?cache=shared" for tests.
func Open(path string) (*Engine, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: ping %q: %w", path, err)
	}
	return &Engine{db: db}, nil
}

// DB returns the underlying *sql.DB. Exposed for the schema introspector and
// CLI diagnostics; the write path and query path route through Engine's own
// methods instead so that the write mutex (spec.md §5) stays enforceable.
func (e *Engine) DB() *sql.DB { return e.db }

func (e *Engine) Close() error { return e.db.Close() }

// QueryContext and ExecContext are thin pass-throughs kept on Engine so
// higher layers depend on this package's seam rather than database/sql
// directly, matching the teacher's database.Database abstraction layer.
func (e *Engine) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, query, args...)
}

func (e *Engine) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.db.ExecContext(ctx, query, args...)
}

func (e *Engine) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return e.db.BeginTx(ctx, nil)
}
