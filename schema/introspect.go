package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Introspector reads the live schema from the embedded SQL engine. It is the
// schema package's only point of contact with *sql.DB; everything else in
// the package operates on the in-memory Schema/Table/Column model.
type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

// Introspect reads the current tables and views from sqlite_master, the way
// the teacher's database/sqlite3.Sqlite3Database.DumpDDLs enumerates objects,
// but returns a structured Schema instead of DDL text.
func (in *Introspector) Introspect(ctx context.Context) (*Schema, error) {
	tableNames, err := in.tableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect: list tables: %w", err)
	}

	schema := &Schema{}
	for _, name := range tableNames {
		table, err := in.introspectTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspect table %q: %w", name, err)
		}
		schema.Tables = append(schema.Tables, *table)
	}

	views, err := in.introspectViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect: list views: %w", err)
	}
	schema.Views = views

	return schema, nil
}

func (in *Introspector) tableNames(ctx context.Context) ([]string, error) {
	rows, err := in.db.QueryContext(ctx,
		`select tbl_name from sqlite_master where type = 'table' and tbl_name not like 'sqlite_%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (in *Introspector) introspectViews(ctx context.Context) ([]View, error) {
	rows, err := in.db.QueryContext(ctx,
		`select name, sql from sqlite_master where type = 'view'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []View
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		views = append(views, View{Name: name, Definition: def})
	}
	return views, rows.Err()
}

func (in *Introspector) introspectTable(ctx context.Context, name string) (*Table, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`pragma table_info(%s)`, quoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := &Table{Name: name}
	var pkColumns []string
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col := Column{
			Name:    colName,
			Storage: storageTypeFromAffinity(colType),
			NotNull: notNull != 0,
		}
		if dflt.Valid {
			col.Default = dflt.String
		}
		table.Columns = append(table.Columns, col)
		if pk > 0 {
			pkColumns = ensureLen(pkColumns, pk)
			pkColumns[pk-1] = colName
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pkColumns) > 0 {
		table.Keys = append(table.Keys, Key{Kind: KeyPrimary, Columns: pkColumns})
	}

	indexes, err := in.introspectIndexes(ctx, name)
	if err != nil {
		return nil, err
	}
	table.Keys = append(table.Keys, indexes...)

	refs, err := in.introspectForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	table.References = refs

	return table, nil
}

func (in *Introspector) introspectIndexes(ctx context.Context, table string) ([]Key, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`pragma index_list(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type idx struct {
		name   string
		unique bool
		origin string
	}
	var idxs []idx
	for rows.Next() {
		var seq int
		var name, origin string
		var unique int
		var partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		idxs = append(idxs, idx{name: name, unique: unique != 0, origin: origin})
	}
	rows.Close()

	var keys []Key
	for _, ix := range idxs {
		if ix.origin == "pk" {
			continue // already captured from table_info
		}
		cols, err := in.indexColumns(ctx, ix.name)
		if err != nil {
			return nil, err
		}
		kind := KeyIndex
		if ix.unique {
			kind = KeyUnique
		}
		keys = append(keys, Key{Kind: kind, Name: ix.name, Columns: cols})
	}
	return keys, nil
}

func (in *Introspector) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`pragma index_info(%s)`, quoteIdent(index)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (in *Introspector) introspectForeignKeys(ctx context.Context, table string) ([]Reference, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf(`pragma foreign_key_list(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		var id, seq int
		var refTable, from, to, onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		policy := CascadeRestrict
		if onDelete == "CASCADE" {
			policy = CascadeCascade
		}
		refs = append(refs, Reference{Column: from, Referenced: refTable, RefColumn: to, Policy: policy})
	}
	return refs, rows.Err()
}

// storageTypeFromAffinity maps a SQLite declared type name to one of the
// four storage classes, following SQLite's type affinity rules.
func storageTypeFromAffinity(declared string) StorageType {
	switch {
	case containsAny(declared, "INT"):
		return StorageInteger
	case containsAny(declared, "CHAR", "CLOB", "TEXT"):
		return StorageText
	case containsAny(declared, "BLOB") || declared == "":
		return StorageBlob
	case containsAny(declared, "REAL", "FLOA", "DOUB"):
		return StorageReal
	default:
		return StorageText
	}
}

func containsAny(s string, subs ...string) bool {
	upper := toUpper(s)
	for _, sub := range subs {
		if indexOf(upper, sub) >= 0 {
			return true
		}
	}
	return false
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func ensureLen(s []string, n int) []string {
	for len(s) < n {
		s = append(s, "")
	}
	return s
}

func quoteIdent(name string) string {
	return QuoteIdent(name)
}

// QuoteIdent quotes a SQLite identifier, exported for callers outside this
// package that render SQL against the same dialect (the query builder's
// Render).
func QuoteIdent(name string) string {
	return `"` + name + `"`
}
