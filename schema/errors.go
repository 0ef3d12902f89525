package schema

import "fmt"

// Error is raised when the migration planner cannot produce a plan that
// preserves existing data for a declared schema change (spec.md §7 SchemaError).
type Error struct {
	Table  string
	Column string
	Reason string
}

func (e *Error) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema: table %q column %q: %s", e.Table, e.Column, e.Reason)
	}
	return fmt.Sprintf("schema: table %q: %s", e.Table, e.Reason)
}

func newColumnError(table, column, reason string) error {
	return &Error{Table: table, Column: column, Reason: reason}
}
