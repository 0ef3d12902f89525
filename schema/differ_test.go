package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffCreatesMissingTable(t *testing.T) {
	declared := &Schema{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "name", Storage: StorageText, NotNull: true},
		}},
	}}
	live := &Schema{}

	plan, err := Diff(declared, live)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "create table users", plan.Steps[0].String())

	ddls := plan.DryRun()
	assert.Contains(t, ddls[0], `"system_id" TEXT NOT NULL`)
	assert.Contains(t, ddls[0], `"name" TEXT NOT NULL`)
}

func TestDiffAddsColumnPreservingData(t *testing.T) {
	// live has table users(name) plus system columns already applied; the
	// declared schema evolves it to add `age INTEGER`.
	base := Table{Name: "users", Columns: []Column{
		{Name: "name", Storage: StorageText},
	}}.WithSystemColumns()

	declared := &Schema{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "name", Storage: StorageText},
			{Name: "age", Storage: StorageInteger},
		}},
	}}
	live := &Schema{Tables: []Table{base}}

	plan, err := Diff(declared, live)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "add column users.age", plan.Steps[0].String())

	ddls := plan.DryRun()
	assert.Equal(t, `ALTER TABLE "users" ADD COLUMN "age" INTEGER`, ddls[0])
}

func TestDiffRejectsNotNullColumnWithoutDefault(t *testing.T) {
	base := Table{Name: "users", Columns: []Column{
		{Name: "name", Storage: StorageText},
	}}.WithSystemColumns()

	declared := &Schema{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "name", Storage: StorageText},
			{Name: "age", Storage: StorageInteger, NotNull: true},
		}},
	}}
	live := &Schema{Tables: []Table{base}}

	_, err := Diff(declared, live)
	require.Error(t, err)
	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "age", schemaErr.Column)
}

func TestDiffRecreatesTableOnDroppedColumn(t *testing.T) {
	base := Table{Name: "users", Columns: []Column{
		{Name: "name", Storage: StorageText},
		{Name: "legacy", Storage: StorageText},
	}}.WithSystemColumns()

	declared := &Schema{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "name", Storage: StorageText},
		}},
	}}
	live := &Schema{Tables: []Table{base}}

	plan, err := Diff(declared, live)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "recreate table users", plan.Steps[0].String())

	ddls := plan.DryRun()
	assert.Contains(t, ddls[0], "users__dsqlite_new")
	joined := ""
	for _, d := range ddls {
		joined += d + "\n"
	}
	assert.NotContains(t, joined, "legacy")
	assert.Contains(t, joined, "DROP TABLE")
	assert.Contains(t, joined, "RENAME TO")
}

func TestDiffIsIdempotent(t *testing.T) {
	declared := &Schema{Tables: []Table{
		{Name: "users", Columns: []Column{
			{Name: "name", Storage: StorageText, NotNull: true},
		}},
	}}
	live := &Schema{}

	plan, err := Diff(declared, live)
	require.NoError(t, err)
	require.False(t, plan.Empty())

	// Simulate the table existing exactly as the declared schema demands:
	// introspecting it should now produce an empty plan.
	afterApplyUsers := Table{Name: "users", Columns: []Column{
		{Name: "name", Storage: StorageText, NotNull: true},
	}}.WithSystemColumns()
	afterApply := &Schema{Tables: []Table{afterApplyUsers}}
	second, err := Diff(declared, afterApply)
	require.NoError(t, err)
	assert.True(t, second.Empty())
}

func TestPlanCascadesFollowsCascadePolicyOnly(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Name: "accounts"},
		{Name: "orders", References: []Reference{
			{Column: "account_id", Referenced: "accounts", Policy: CascadeCascade},
		}},
		{Name: "audit_log", References: []Reference{
			{Column: "account_id", Referenced: "accounts", Policy: CascadeRestrict},
		}},
	}}

	plan := s.PlanCascades("accounts")
	assert.Equal(t, []string{"orders"}, plan.Tables)
	assert.Equal(t, []string{"audit_log"}, s.RestrictedDependents("accounts"))
}
