package dsqlite

import "context"

// RawQuery executes sqlText directly against the engine and returns each row
// as a column-name-keyed map. It bypasses query.Query/Record entirely: no
// LWW resolution, no journal entry, no registry notification — the
// pass-through escape hatch for callers that need arbitrary SQL the query
// builder doesn't express (spec.md §6).
func (db *Database) RawQuery(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := db.engine.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, newError(KindRead, "", "", "raw query", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// RawInsert executes sqlText directly against the engine, returning the
// driver's last-insert-rowid. No system-column stamping, LWW shadowing, or
// journal entry happens; the caller owns all of that if it's needed.
func (db *Database) RawInsert(ctx context.Context, sqlText string, args ...any) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.engine.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, newError(KindCreate, "", "", "raw insert", err)
	}
	return res.LastInsertId()
}

// RawUpdate executes sqlText directly against the engine, returning the
// number of rows affected. No origin check, LWW shadowing, or journal entry
// happens.
func (db *Database) RawUpdate(ctx context.Context, sqlText string, args ...any) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.engine.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, newError(KindUpdate, "", "", "raw update", err)
	}
	return res.RowsAffected()
}

// RawDelete executes sqlText directly against the engine, returning the
// number of rows affected. No cascade walk or journal entry happens.
func (db *Database) RawDelete(ctx context.Context, sqlText string, args ...any) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.engine.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, newError(KindDelete, "", "", "raw delete", err)
	}
	return res.RowsAffected()
}
