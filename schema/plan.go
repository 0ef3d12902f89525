package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Step is one ordered unit of a migration Plan. Each step renders to one or
// more DDL/DML statements that must run in sequence.
type Step interface {
	Statements() []string
	fmt.Stringer
}

type createTableStep struct{ table Table }

func (s createTableStep) Statements() []string {
	ddls := []string{createTableDDL(s.table)}
	ddls = append(ddls, createIndexDDLs(s.table)...)
	return ddls
}
func (s createTableStep) String() string { return "create table " + s.table.Name }

type createViewStep struct{ view View }

func (s createViewStep) Statements() []string { return []string{createViewDDL(s.view)} }
func (s createViewStep) String() string       { return "create view " + s.view.Name }

type dropViewStep struct{ name string }

func (s dropViewStep) Statements() []string {
	return []string{fmt.Sprintf("DROP VIEW %s", quoteIdent(s.name))}
}
func (s dropViewStep) String() string { return "drop view " + s.name }

type dropTableStep struct{ name string }

func (s dropTableStep) Statements() []string {
	return []string{fmt.Sprintf("DROP TABLE %s", quoteIdent(s.name))}
}
func (s dropTableStep) String() string { return "drop table " + s.name }

type addColumnStep struct {
	table  string
	column Column
}

func (s addColumnStep) Statements() []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(s.table), columnDDL(s.column))}
}
func (s addColumnStep) String() string { return fmt.Sprintf("add column %s.%s", s.table, s.column.Name) }

// recreateTableStep implements the rename-recreate-copy-drop sequence
// spec.md §4.2 mandates whenever a column is dropped, or a column's
// NOT NULL / type / primary-key membership changes.
type recreateTableStep struct {
	newTable  Table
	preserved []string // columns present in both old and new shapes
}

func (s recreateTableStep) Statements() []string {
	tmpName := s.newTable.Name + "__dsqlite_new"
	tmp := s.newTable
	tmp.Name = tmpName

	ddls := []string{createTableDDL(tmp)}
	ddls = append(ddls, createIndexDDLsNamed(tmp, tmpName)...)

	cols := quoteIdentList(s.preserved)
	ddls = append(ddls, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		quoteIdent(tmpName), cols, cols, quoteIdent(s.newTable.Name)))
	ddls = append(ddls, fmt.Sprintf("DROP TABLE %s", quoteIdent(s.newTable.Name)))
	ddls = append(ddls, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(tmpName), quoteIdent(s.newTable.Name)))
	return ddls
}

func (s recreateTableStep) String() string { return "recreate table " + s.newTable.Name }

func createIndexDDLsNamed(t Table, nameSuffix string) []string {
	// Index names must be unique per-database, so the temporary shadow table
	// during a recreate uses suffixed index names to avoid colliding with the
	// still-live original indexes until the DROP TABLE below removes them.
	renamed := t
	for i, k := range renamed.Keys {
		if k.Kind != KeyPrimary && k.Name == "" {
			renamed.Keys[i].Name = fmt.Sprintf("%s_%s_idx", nameSuffix, joinUnderscore(k.Columns))
		}
	}
	return createIndexDDLs(renamed)
}

func joinUnderscore(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "_"
		}
		out += p
	}
	return out
}

// Plan is an ordered, data-preserving migration produced by Diff. Plans are
// idempotent: Diff(declared, introspect()) after applying a plan yields an
// empty plan.
type Plan struct {
	Steps []Step
}

func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// DryRun returns the ordered DDL statements the plan would execute, without
// running them, mirroring the teacher's database/dry_run.go.
func (p *Plan) DryRun() []string {
	var out []string
	for _, step := range p.Steps {
		out = append(out, step.Statements()...)
	}
	return out
}

// Execute runs the plan under a single transaction; a failure at any step
// rolls back every statement the plan has applied so far (spec.md §4.2
// Atomicity).
func (p *Plan) Execute(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema: begin migration transaction: %w", err)
	}
	for _, step := range p.Steps {
		for _, stmt := range step.Statements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("schema: step %s: %w", step, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema: commit migration: %w", err)
	}
	return nil
}
