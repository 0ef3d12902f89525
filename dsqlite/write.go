package dsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/journal"
	"github.com/declarative-sqlite/dsqlite/query"
	"github.com/declarative-sqlite/dsqlite/schema"
	"github.com/declarative-sqlite/dsqlite/stream"
	"github.com/declarative-sqlite/dsqlite/util"
)

// Insert generates a fresh system_id, stamps system columns and LWW
// shadows, evaluates column defaults, and appends a full-row journal entry
// (spec.md §4.4 "insert").
func (db *Database) Insert(ctx context.Context, table string, values map[string]any) (string, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tbl := db.schema.Table(table)
	if tbl == nil {
		return "", newError(KindCreate, table, "", "unknown table", nil)
	}

	now := db.clock.Now()
	nowStr := now.String()
	systemID := uuid.NewString()

	row := map[string]any{}
	for k, v := range values {
		row[k] = v
	}
	for _, c := range tbl.Columns {
		if schema.IsSystemColumn(c.Name) || strings.HasSuffix(c.Name, "__hlc") {
			continue
		}
		if _, present := row[c.Name]; present {
			continue
		}
		switch {
		case c.DefaultFunc != nil:
			row[c.Name] = c.DefaultFunc()
		case c.Default != nil:
			row[c.Name] = c.Default
		}
	}
	for _, c := range tbl.Columns {
		if c.LWW {
			if _, present := row[c.Name]; present {
				row[schema.HLCShadowColumn(c.Name)] = nowStr
			}
		}
	}
	row[schema.SystemID] = systemID
	row[schema.SystemCreatedAt] = nowStr
	row[schema.SystemVersion] = nowStr
	row[schema.SystemIsLocalOrigin] = 1

	for _, c := range tbl.Columns {
		if v, ok := row[c.Name]; ok {
			row[c.Name] = schema.Serialize(v, c.Logical)
		}
	}

	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for k, v := range util.CanonicalMapIter(row) {
		cols = append(cols, schema.QuoteIdent(k))
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := db.engine.ExecContext(ctx, stmt, args...); err != nil {
		return "", newError(KindCreate, table, "", "insert row", err)
	}

	changedCols := make([]string, 0, len(row))
	for k := range util.CanonicalMapIter(row) {
		changedCols = append(changedCols, k)
	}
	if err := db.journal.Add(ctx, journal.Entry{
		TableName: table, RowID: systemID, HLC: now, IsFullRow: true, Data: row,
	}); err != nil {
		return "", newError(KindCreate, table, "", "append journal entry", err)
	}

	db.registry.Notify(stream.WriteNotification{
		Table: table, ColumnsWritten: changedCols, RowIDs: []string{systemID}, MembershipChange: true,
	})
	return systemID, nil
}

// Update resolves rows matching where, bumps system_version, enforces the
// LWW origin restriction, applies the write, and appends one journal entry
// per affected row (spec.md §4.4 "update").
func (db *Database) Update(ctx context.Context, table string, values map[string]any, where query.Expr) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tbl := db.schema.Table(table)
	if tbl == nil {
		return 0, newError(KindUpdate, table, "", "unknown table", nil)
	}

	lwwSet := map[string]bool{}
	for _, c := range tbl.LWWColumns() {
		lwwSet[c] = true
	}

	// values may carry caller/Record-supplied "<col>__hlc" shadow keys
	// alongside the real column (Record.Set stages both); those are derived
	// below from lwwSet, never taken from the caller, so strip them here.
	serialized := map[string]any{}
	for k, v := range values {
		if strings.HasSuffix(k, "__hlc") {
			continue
		}
		col := tbl.Column(k)
		logical := schema.LogicalNone
		if col != nil {
			logical = col.Logical
		}
		serialized[k] = schema.Serialize(v, logical)
	}

	var nonLWWTouched []string
	for k := range serialized {
		if !lwwSet[k] {
			nonLWWTouched = append(nonLWWTouched, k)
		}
	}

	matches, err := db.selectOrigins(ctx, table, where)
	if err != nil {
		return 0, newError(KindUpdate, table, "", "resolve matching rows", err)
	}
	if len(nonLWWTouched) > 0 {
		for _, m := range matches {
			if !m.localOrigin {
				return 0, newError(KindUpdate, table, nonLWWTouched[0],
					"row originated remotely; only LWW columns may be modified locally", nil)
			}
		}
	}
	if len(matches) == 0 {
		return 0, nil
	}

	now := db.clock.Now()
	nowStr := now.String()

	setCols := make([]string, 0, len(serialized)+1)
	setArgs := make([]any, 0, len(serialized)+1)
	for k, v := range util.CanonicalMapIter(serialized) {
		setCols = append(setCols, schema.QuoteIdent(k)+" = ?")
		setArgs = append(setArgs, v)
		if lwwSet[k] {
			setCols = append(setCols, schema.QuoteIdent(schema.HLCShadowColumn(k))+" = ?")
			setArgs = append(setArgs, nowStr)
		}
	}
	setCols = append(setCols, schema.QuoteIdent(schema.SystemVersion)+" = ?")
	setArgs = append(setArgs, nowStr)

	changedCols := make([]string, 0, len(serialized))
	for k := range util.CanonicalMapIter(serialized) {
		changedCols = append(changedCols, k)
	}
	var rowIDs []string

	for _, m := range matches {
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
			schema.QuoteIdent(table), strings.Join(setCols, ", "), schema.QuoteIdent(schema.SystemID))
		args := append(append([]any{}, setArgs...), m.systemID)
		if _, err := db.engine.ExecContext(ctx, stmt, args...); err != nil {
			return 0, newError(KindUpdate, table, "", "update row", err)
		}

		entryData := map[string]any{schema.SystemID: m.systemID}
		for k, v := range serialized {
			entryData[k] = v
			if lwwSet[k] {
				entryData[schema.HLCShadowColumn(k)] = nowStr
			}
		}
		if err := db.journal.Add(ctx, journal.Entry{
			TableName: table, RowID: m.systemID, HLC: now, IsFullRow: m.localOrigin, Data: entryData,
		}); err != nil {
			return 0, newError(KindUpdate, table, "", "append journal entry", err)
		}
		rowIDs = append(rowIDs, m.systemID)
	}

	db.registry.Notify(stream.WriteNotification{
		Table: table, ColumnsWritten: changedCols, RowIDs: rowIDs, MembershipChange: false,
	})
	return len(rowIDs), nil
}

// Delete resolves rows matching where, cascades to dependent rows per their
// declared reference policy, and appends delete journal entries (spec.md
// §4.4 "delete", §9 "Cyclic graphs").
func (db *Database) Delete(ctx context.Context, table string, where query.Expr) (int, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tbl := db.schema.Table(table)
	if tbl == nil {
		return 0, newError(KindDelete, table, "", "unknown table", nil)
	}

	matches, err := db.selectOrigins(ctx, table, where)
	if err != nil {
		return 0, newError(KindDelete, table, "", "resolve matching rows", err)
	}
	if len(matches) == 0 {
		return 0, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.systemID
	}

	tx, err := db.engine.BeginTx(ctx)
	if err != nil {
		return 0, newError(KindDelete, table, "", "begin transaction", err)
	}
	if err := db.cascadeAndDelete(ctx, tx, table, ids); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := deleteByIDs(ctx, tx, table, ids); err != nil {
		tx.Rollback()
		return 0, newError(KindDelete, table, "", "delete rows", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, newError(KindDelete, table, "", "commit transaction", err)
	}

	now := db.clock.Now()
	for _, m := range matches {
		if err := db.journal.Add(ctx, journal.Entry{
			TableName: table, RowID: m.systemID, HLC: now, IsFullRow: true, Data: nil,
		}); err != nil {
			return 0, newError(KindDelete, table, "", "append journal entry", err)
		}
	}
	db.registry.Notify(stream.WriteNotification{Table: table, RowIDs: ids, MembershipChange: true})
	return len(ids), nil
}

// CascadePreview exposes the schema's static cascade-plan computation
// without executing anything, for diagnostics/dry-run callers.
func (db *Database) CascadePreview(table string) schema.CascadePlan {
	return db.schema.PlanCascades(table)
}

type rowOrigin struct {
	systemID    string
	localOrigin bool
}

func (db *Database) selectOrigins(ctx context.Context, table string, where query.Expr) ([]rowOrigin, error) {
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s",
		schema.QuoteIdent(schema.SystemID), schema.QuoteIdent(schema.SystemIsLocalOrigin), schema.QuoteIdent(table))
	var args []any
	if where != nil {
		whereSQL, whereArgs, err := query.RenderExpr(where)
		if err != nil {
			return nil, err
		}
		stmt += " WHERE " + whereSQL
		args = whereArgs
	}
	rows, err := db.engine.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rowOrigin
	for rows.Next() {
		var id string
		var origin int64
		if err := rows.Scan(&id, &origin); err != nil {
			return nil, err
		}
		out = append(out, rowOrigin{systemID: id, localOrigin: origin != 0})
	}
	return out, rows.Err()
}

func findReference(t *schema.Table, referenced string, policy schema.CascadePolicy) *schema.Reference {
	if t == nil {
		return nil
	}
	for i := range t.References {
		if t.References[i].Referenced == referenced && t.References[i].Policy == policy {
			return &t.References[i]
		}
	}
	return nil
}

func directCascadeChildren(s *schema.Schema, table string) []string {
	var out []string
	for _, t := range s.Tables {
		if findReference(&t, table, schema.CascadeCascade) != nil {
			out = append(out, t.Name)
		}
	}
	return out
}

// cascadeAndDelete walks the reference graph from table's matched ids,
// rejecting the delete if a CascadeRestrict dependent still has matching
// rows, and recursively deleting CascadeCascade dependents depth-first so a
// child table's rows are always removed before its parent's.
func (db *Database) cascadeAndDelete(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, restrictedTable := range db.schema.RestrictedDependents(table) {
		rt := db.schema.Table(restrictedTable)
		ref := findReference(rt, table, schema.CascadeRestrict)
		if ref == nil {
			continue
		}
		n, err := countReferencing(ctx, tx, restrictedTable, ref.Column, ids)
		if err != nil {
			return newError(KindDelete, table, "", "check restricted dependents", err)
		}
		if n > 0 {
			return newError(KindDelete, table, "", fmt.Sprintf("restricted by %d row(s) in %s", n, restrictedTable), nil)
		}
	}

	for _, childTable := range directCascadeChildren(db.schema, table) {
		ref := findReference(db.schema.Table(childTable), table, schema.CascadeCascade)
		childIDs, err := selectReferencingIDs(ctx, tx, childTable, ref.Column, ids)
		if err != nil {
			return newError(KindDelete, table, "", "resolve cascade dependents", err)
		}
		if len(childIDs) == 0 {
			continue
		}
		if err := db.cascadeAndDelete(ctx, tx, childTable, childIDs); err != nil {
			return err
		}
		if err := deleteByIDs(ctx, tx, childTable, childIDs); err != nil {
			return newError(KindDelete, childTable, "", "delete cascade dependents", err)
		}
	}
	return nil
}

func countReferencing(ctx context.Context, tx *sql.Tx, table, column string, ids []string) (int, error) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IN (%s)",
		schema.QuoteIdent(table), schema.QuoteIdent(column), placeholders(len(ids)))
	var n int
	err := tx.QueryRowContext(ctx, stmt, toArgs(ids)...).Scan(&n)
	return n, err
}

func selectReferencingIDs(ctx context.Context, tx *sql.Tx, table, column string, ids []string) ([]string, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		schema.QuoteIdent(schema.SystemID), schema.QuoteIdent(table), schema.QuoteIdent(column), placeholders(len(ids)))
	rows, err := tx.QueryContext(ctx, stmt, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func deleteByIDs(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		schema.QuoteIdent(table), schema.QuoteIdent(schema.SystemID), placeholders(len(ids)))
	_, err := tx.ExecContext(ctx, stmt, toArgs(ids)...)
	return err
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// BulkLoad accepts rows from remote sync, applying LWW comparison per
// column and never touching the dirty journal or the local-origin flag of
// an existing row (spec.md §4.4 "bulkLoad").
func (db *Database) BulkLoad(ctx context.Context, table string, rows []map[string]any) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tbl := db.schema.Table(table)
	if tbl == nil {
		return newError(KindCreate, table, "", "unknown table", nil)
	}
	lwwSet := map[string]bool{}
	for _, c := range tbl.LWWColumns() {
		lwwSet[c] = true
	}

	changedCols := map[string]bool{}
	var rowIDs []string

	for _, incoming := range rows {
		id, _ := incoming[schema.SystemID].(string)
		if id == "" {
			return newError(KindCreate, table, schema.SystemID, "bulk load row missing system_id", nil)
		}
		existing, found, err := db.loadRawRow(ctx, table, id)
		if err != nil {
			return newError(KindCreate, table, "", "bulk load: read existing row", err)
		}

		if !found {
			if err := db.bulkInsert(ctx, tbl, incoming); err != nil {
				if db.bulkLoadStrategy == ConstraintSkip {
					continue
				}
				return newError(KindCreate, table, "", "bulk load insert", err)
			}
		} else {
			changed, err := db.bulkMerge(ctx, tbl, lwwSet, existing, incoming)
			if err != nil {
				return newError(KindUpdate, table, "", "bulk load merge", err)
			}
			for c := range changed {
				changedCols[c] = true
			}
		}
		if v, ok := incoming[schema.SystemVersion].(string); ok {
			if ts, err := hlc.Parse(v); err == nil {
				db.clock.Observe(ts)
			}
		}
		rowIDs = append(rowIDs, id)
	}

	var cols []string
	for c := range changedCols {
		cols = append(cols, c)
	}
	if len(rowIDs) > 0 {
		db.registry.Notify(stream.WriteNotification{Table: table, ColumnsWritten: cols, RowIDs: rowIDs, MembershipChange: true})
	}
	return nil
}

func (db *Database) loadRawRow(ctx context.Context, table, systemID string) (map[string]any, bool, error) {
	rs, err := db.engine.QueryContext(ctx, "SELECT * FROM "+schema.QuoteIdent(table)+" WHERE "+schema.QuoteIdent(schema.SystemID)+" = ?", systemID)
	if err != nil {
		return nil, false, err
	}
	defer rs.Close()
	results, err := scanRows(rs)
	if err != nil {
		return nil, false, err
	}
	if len(results) == 0 {
		return nil, false, nil
	}
	return results[0], true, nil
}

func (db *Database) bulkInsert(ctx context.Context, tbl *schema.Table, incoming map[string]any) error {
	row := map[string]any{}
	for k, v := range incoming {
		row[k] = v
	}
	row[schema.SystemIsLocalOrigin] = 0
	if _, ok := row[schema.SystemVersion]; !ok {
		row[schema.SystemVersion] = row[schema.SystemCreatedAt]
	}
	for _, c := range tbl.Columns {
		if !c.LWW {
			continue
		}
		if _, ok := row[c.Name]; !ok {
			continue
		}
		shadow := schema.HLCShadowColumn(c.Name)
		if _, ok := row[shadow]; !ok {
			row[shadow] = row[schema.SystemVersion]
		}
	}

	cols := make([]string, 0, len(row))
	placeholdersList := make([]string, 0, len(row))
	args := make([]any, 0, len(row))
	for k, v := range util.CanonicalMapIter(row) {
		cols = append(cols, schema.QuoteIdent(k))
		placeholdersList = append(placeholdersList, "?")
		args = append(args, v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.QuoteIdent(tbl.Name), strings.Join(cols, ", "), strings.Join(placeholdersList, ", "))
	_, err := db.engine.ExecContext(ctx, stmt, args...)
	return err
}

// bulkMerge applies spec.md §4.4's per-column LWW comparison against an
// existing row, returning the set of columns actually overwritten.
func (db *Database) bulkMerge(ctx context.Context, tbl *schema.Table, lwwSet map[string]bool, existing, incoming map[string]any) (map[string]bool, error) {
	changed := map[string]bool{}
	setCols := []string{}
	args := []any{}

	storedVersion, _ := existing[schema.SystemVersion].(string)
	storedTS, _ := hlc.Parse(storedVersion)
	maxVersion := storedTS

	for col, val := range incoming {
		if schema.IsSystemColumn(col) || strings.HasSuffix(col, "__hlc") || col == schema.SystemID {
			continue
		}
		if lwwSet[col] {
			incomingHLCStr, _ := incoming[schema.HLCShadowColumn(col)].(string)
			incomingHLC, err := hlc.Parse(incomingHLCStr)
			if err != nil {
				continue
			}
			storedColHLCStr, _ := existing[schema.HLCShadowColumn(col)].(string)
			storedColHLC, _ := hlc.Parse(storedColHLCStr)
			if !incomingHLC.After(storedColHLC) {
				continue // tie or stale: retain stored value (spec.md §4.4 tie-break)
			}
			setCols = append(setCols, schema.QuoteIdent(col)+" = ?", schema.QuoteIdent(schema.HLCShadowColumn(col))+" = ?")
			args = append(args, val, incomingHLCStr)
			changed[col] = true
			if incomingHLC.After(maxVersion) {
				maxVersion = incomingHLC
			}
		} else {
			setCols = append(setCols, schema.QuoteIdent(col)+" = ?")
			args = append(args, val)
			changed[col] = true
		}
	}
	if incomingVersion, ok := incoming[schema.SystemVersion].(string); ok {
		if ts, err := hlc.Parse(incomingVersion); err == nil && ts.After(maxVersion) {
			maxVersion = ts
		}
	}
	if len(setCols) == 0 {
		return changed, nil
	}
	setCols = append(setCols, schema.QuoteIdent(schema.SystemVersion)+" = ?")
	args = append(args, maxVersion.String())
	args = append(args, existing[schema.SystemID])

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		schema.QuoteIdent(tbl.Name), strings.Join(setCols, ", "), schema.QuoteIdent(schema.SystemID))
	_, err := db.engine.ExecContext(ctx, stmt, args...)
	return changed, err
}
