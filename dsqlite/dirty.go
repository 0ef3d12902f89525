package dsqlite

import (
	"context"

	"github.com/declarative-sqlite/dsqlite/journal"
	dsync "github.com/declarative-sqlite/dsqlite/sync"
)

// GetDirtyRows returns every row currently pending sync upload (spec.md
// §4.5 "the dirty row journal").
func (db *Database) GetDirtyRows(ctx context.Context) ([]journal.Entry, error) {
	entries, err := db.journal.GetAll(ctx)
	if err != nil {
		return nil, newError(KindSync, "", "", "list dirty rows", err)
	}
	return entries, nil
}

// ClearDirtyRows discards the entire dirty-row journal, e.g. after a fresh
// bulkLoad from the server establishes a new baseline.
func (db *Database) ClearDirtyRows(ctx context.Context) error {
	if err := db.journal.Clear(ctx); err != nil {
		return newError(KindSync, "", "", "clear dirty rows", err)
	}
	return nil
}

// OnDirtyRowAdded subscribes to every journal append as it happens, for a
// caller that wants to drive sync opportunistically instead of polling
// GetDirtyRows (spec.md §4.5). The returned func unsubscribes.
func (db *Database) OnDirtyRowAdded() (<-chan journal.Entry, func()) {
	return db.journal.OnRowAdded()
}

// Sync exposes the upload/fetch orchestration manager for callers wiring
// their own transport (spec.md §4.9).
func (db *Database) Sync() *dsync.Manager {
	return db.sync
}
