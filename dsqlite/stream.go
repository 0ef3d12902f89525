package dsqlite

import (
	"context"

	"github.com/declarative-sqlite/dsqlite/query"
	"github.com/declarative-sqlite/dsqlite/record"
	"github.com/declarative-sqlite/dsqlite/stream"
)

// NewStream opens a live query against db: q runs once synchronously to
// seed the initial result, then re-runs whenever a write impacts its
// dependency set, debounced through the registry (spec.md §4.6). Go has no
// generic methods, so this lives as a package-level function rather than
// on *Database.
func NewStream[T any](ctx context.Context, db *Database, q *query.Query, mapper func(*record.Record) T) (*stream.Stream[T], error) {
	return stream.New[T](ctx, db.registry, db, db.schema, q, mapper)
}
