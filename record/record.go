// Package record implements the row snapshot type returned from reads:
// typed accessors, modification bookkeeping, and save/reload/delete
// (spec.md §4.7).
package record

import (
	"fmt"
	"time"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/schema"
)

// Mutator is the subset of the database write path a Record needs to save,
// delete, or reload itself. Implemented by the root dsqlite.Database; kept
// as a narrow interface here so this package never imports the root
// package (it would be a cycle) — the same "tagged record, one authorizing
// site" shape spec.md §9 asks for in place of deep record-variant
// inheritance.
type Mutator interface {
	SaveRecord(table string, systemID string, values map[string]any) error
	DeleteRecord(table string, systemID string) error
	ReloadRecord(table string, systemID string) (map[string]any, error)
}

// Kind distinguishes the three ways a Record can come to exist, switched at
// the one site (Set) that authorizes mutation (spec.md §9).
type Kind int

const (
	KindTable Kind = iota
	KindView
	KindForUpdate
)

// Record is a row snapshot plus modification bookkeeping.
type Record struct {
	table       string // owning table name
	updateTable string // present when CRUD was explicitly authorized
	kind        Kind
	data        map[string]any
	modified    map[string]bool
	readOnly    bool
	tableSchema *schema.Table
	mutator     Mutator
	hlcSource   func() hlc.Timestamp
}

// WithClock attaches the HLC source Set() uses to stamp LWW shadow columns.
// The database layer calls this when constructing a Record so this package
// never needs to know about the concrete process-wide clock.
func (r *Record) WithClock(source func() hlc.Timestamp) *Record {
	r.hlcSource = source
	return r
}

// New wraps a row snapshot read from table. kind/updateTable determine
// whether the record is CRUD-enabled (spec.md §4.7: "CRUD-enabled iff its
// source is a table, or the query was declared forUpdate(targetTable)").
func New(table string, data map[string]any, kind Kind, updateTable string, tableSchema *schema.Table, mutator Mutator) *Record {
	r := &Record{
		table:       table,
		updateTable: updateTable,
		kind:        kind,
		data:        map[string]any{},
		modified:    map[string]bool{},
		tableSchema: tableSchema,
		mutator:     mutator,
	}
	for k, v := range data {
		r.data[k] = v
	}
	if kind == KindView && updateTable == "" {
		r.readOnly = true
	}
	return r
}

// crudTable returns the table name mutation is authorized against, or ""
// if the record is read-only.
func (r *Record) crudTable() string {
	switch r.kind {
	case KindTable:
		return r.table
	case KindForUpdate:
		return r.updateTable
	default:
		return ""
	}
}

// SystemID returns the row's immutable identity, or "" if absent (a raw
// query result not rooted at a table/forUpdate source).
func (r *Record) SystemID() string {
	if v, ok := r.data[schema.SystemID].(string); ok {
		return v
	}
	return ""
}

// IsLocalOrigin reports system_is_local_origin, defaulting to true when the
// column is absent (e.g. freshly inserted-but-not-yet-reloaded records).
func (r *Record) IsLocalOrigin() bool {
	switch v := r.data[schema.SystemIsLocalOrigin].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// Get returns the raw stored value for column, and whether it was present.
func (r *Record) Get(column string) (any, bool) {
	v, ok := r.data[column]
	return v, ok
}

func (r *Record) GetString(column string) string {
	v, _ := r.data[column].(string)
	return v
}

func (r *Record) GetInt(column string) int64 {
	switch v := r.data[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (r *Record) GetFloat(column string) float64 {
	switch v := r.data[column].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func (r *Record) GetTime(column string) (time.Time, error) {
	s, _ := r.data[column].(string)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Set stages a value for column, to be written on the next Save(). It
// enforces spec.md §4.7's setter rules: reject on read-only records,
// synthesize a new HLC for LWW columns, reject non-LWW mutation on
// remote-origin rows.
func (r *Record) Set(column string, value any) error {
	if r.readOnly || r.crudTable() == "" {
		return &PermissionError{Table: r.table, Column: column, Reason: "record is read-only"}
	}
	col := r.resolveColumn(column)
	if col == nil {
		return fmt.Errorf("record: column %q is not part of table %q", column, r.crudTable())
	}

	if col.LWW {
		ts := r.nextHLC()
		r.data[schema.HLCShadowColumn(column)] = ts.String()
		r.modified[schema.HLCShadowColumn(column)] = true
	} else if !r.IsLocalOrigin() {
		return &PermissionError{Table: r.table, Column: column,
			Reason: "row originated remotely; only LWW columns may be modified locally"}
	}

	r.data[column] = schema.Serialize(value, col.Logical)
	r.modified[column] = true
	return nil
}

// resolveColumn looks up column on the table CRUD is authorized against.
// The caller is responsible for passing the authorized table's schema as
// tableSchema in New (the target table for forUpdate records).
func (r *Record) resolveColumn(name string) *schema.Column {
	if r.tableSchema == nil {
		return nil
	}
	return r.tableSchema.Column(name)
}

func (r *Record) nextHLC() hlc.Timestamp {
	if r.hlcSource != nil {
		return r.hlcSource()
	}
	return hlc.Timestamp{}
}

// ModifiedColumns returns the set of columns staged for the next Save().
func (r *Record) ModifiedColumns() []string {
	var out []string
	for k := range r.modified {
		out = append(out, k)
	}
	return out
}

// Save writes every modified column (plus LWW shadows) keyed by system_id,
// then clears the modified set on success.
func (r *Record) Save() error {
	if r.readOnly || r.crudTable() == "" {
		return &PermissionError{Table: r.table, Reason: "record is read-only"}
	}
	if len(r.modified) == 0 {
		return nil
	}
	values := map[string]any{}
	for col := range r.modified {
		values[col] = r.data[col]
	}
	if err := r.mutator.SaveRecord(r.crudTable(), r.SystemID(), values); err != nil {
		return err
	}
	r.modified = map[string]bool{}
	return nil
}

// Delete issues a delete keyed by system_id.
func (r *Record) Delete() error {
	if r.readOnly || r.crudTable() == "" {
		return &PermissionError{Table: r.table, Reason: "record is read-only"}
	}
	return r.mutator.DeleteRecord(r.crudTable(), r.SystemID())
}

// Reload re-reads the current row by system_id and replaces the snapshot.
// Fails with NotFoundError if the row no longer exists; the modified set is
// left untouched on failure (spec.md §8 scenario 6).
func (r *Record) Reload() error {
	data, err := r.mutator.ReloadRecord(r.table, r.SystemID())
	if err != nil {
		return err
	}
	r.data = data
	return nil
}
