package dsqlite

import (
	"context"
	"database/sql"

	"github.com/declarative-sqlite/dsqlite/query"
	"github.com/declarative-sqlite/dsqlite/record"
	"github.com/declarative-sqlite/dsqlite/schema"
)

// Query runs q and wraps every result row as a Record: CRUD-enabled on q's
// ForUpdateTable when one is set, CRUD-enabled on the source table when q
// reads a single declared table with no joins, and read-only otherwise
// (spec.md §4.7).
func (db *Database) Query(ctx context.Context, q *query.Query) ([]*record.Record, error) {
	return db.RunQuery(ctx, q)
}

// RunQuery implements stream.QueryRunner so a Stream can re-execute its
// query against this Database without importing it.
func (db *Database) RunQuery(ctx context.Context, q *query.Query) ([]*record.Record, error) {
	sqlText, args, err := query.Render(q)
	if err != nil {
		return nil, newError(KindRead, q.From.Table, "", "render query", err)
	}
	rows, err := db.engine.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, newError(KindRead, q.From.Table, "", "execute query", err)
	}
	defer rows.Close()

	maps, err := scanRows(rows)
	if err != nil {
		return nil, newError(KindRead, q.From.Table, "", "scan rows", err)
	}

	kind, crudTable, tableSchema := db.recordShape(q)
	out := make([]*record.Record, 0, len(maps))
	for _, m := range maps {
		out = append(out, record.New(q.From.Table, m, kind, crudTable, tableSchema, db).WithClock(db.clock.Now))
	}
	return out, nil
}

// QueryMaps runs q and returns raw column maps, bypassing Record
// construction for callers that just want data: a lighter-weight read
// surface alongside Query.
func (db *Database) QueryMaps(ctx context.Context, q *query.Query) ([]map[string]any, error) {
	sqlText, args, err := query.Render(q)
	if err != nil {
		return nil, newError(KindRead, q.From.Table, "", "render query", err)
	}
	rows, err := db.engine.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, newError(KindRead, q.From.Table, "", "execute query", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// recordShape decides the Kind/crudTable/schema a result row's Record
// should carry: plain table sources are KindTable, everything else is
// read-only unless the query was explicitly marked forUpdate(table).
func (db *Database) recordShape(q *query.Query) (record.Kind, string, *schema.Table) {
	if q.ForUpdateTable != "" {
		return record.KindForUpdate, q.ForUpdateTable, db.schema.Table(q.ForUpdateTable)
	}
	if q.From.SubQuery == nil && len(q.Joins) == 0 {
		if t := db.schema.Table(q.From.Table); t != nil {
			return record.KindTable, q.From.Table, t
		}
	}
	return record.KindView, "", nil
}

// SaveRecord implements record.Mutator: it applies an Update for the
// modified columns, keyed by system_id.
func (db *Database) SaveRecord(table string, systemID string, values map[string]any) error {
	_, err := db.Update(context.Background(), table, values, systemIDEquals(systemID))
	return err
}

// DeleteRecord implements record.Mutator, keyed by system_id.
func (db *Database) DeleteRecord(table string, systemID string) error {
	_, err := db.Delete(context.Background(), table, systemIDEquals(systemID))
	return err
}

// ReloadRecord implements record.Mutator: re-reads the row by system_id,
// returning record.NotFoundError if it no longer exists (spec.md §8
// scenario 6).
func (db *Database) ReloadRecord(table string, systemID string) (map[string]any, error) {
	rows, err := db.engine.QueryContext(context.Background(),
		"SELECT * FROM "+schema.QuoteIdent(table)+" WHERE "+schema.QuoteIdent(schema.SystemID)+" = ?", systemID)
	if err != nil {
		return nil, newError(KindRead, table, "", "reload row", err)
	}
	defer rows.Close()
	maps, err := scanRows(rows)
	if err != nil {
		return nil, newError(KindRead, table, "", "scan reloaded row", err)
	}
	if len(maps) == 0 {
		return nil, &record.NotFoundError{Table: table, SystemID: systemID}
	}
	return maps[0], nil
}

func systemIDEquals(systemID string) query.Expr {
	return query.Cmp{Col: query.Column{Name: schema.SystemID}, Op: query.OpEq, Val: systemID}
}

// scanRows materializes *sql.Rows into column-name-keyed maps, using
// driver-native types (no column-type lookups beyond what database/sql
// already performs).
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
