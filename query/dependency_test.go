package query

import (
	"reflect"
	"testing"

	"github.com/declarative-sqlite/dsqlite/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	users := schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "email", Storage: schema.StorageText},
		{Name: "age", Storage: schema.StorageInteger},
	}}.WithSystemColumns()
	orders := schema.Table{Name: "orders", Columns: []schema.Column{
		{Name: "user_id", Storage: schema.StorageText},
		{Name: "total", Storage: schema.StorageReal},
	}}.WithSystemColumns()

	return &schema.Schema{
		Tables: []schema.Table{users, orders},
		Views: []schema.View{
			{Name: "order_summary", Columns: []string{"user_id", "total"}, Sources: []string{"orders"}},
		},
	}
}

func TestAnalyzeColumnFilteredStream(t *testing.T) {
	s := testSchema()
	q := New("users")
	q.Select = []SelectItem{
		{Col: Column{Name: "system_id"}},
		{Col: Column{Name: "email"}},
	}

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.Tables["users"])
	assert.False(t, deps.UsesWildcard)
	assert.True(t, deps.Columns["users.email"])
	assert.False(t, deps.Columns["users.age"])
}

func TestAnalyzeWildcardMarksWholeTable(t *testing.T) {
	s := testSchema()
	q := New("users").SelectAll()

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.UsesWildcard)
	assert.True(t, deps.Tables["users"])
	assert.True(t, deps.WildcardTables["users"])
}

func TestAnalyzeQualifiedWildcardOnlyMarksThatTable(t *testing.T) {
	s := testSchema()
	q := New("users").As("u")
	q.Select = []SelectItem{{Wildcard: true, Col: Column{Table: "u"}}}
	q.Join(JoinInner, "orders", "o", Cmp{
		Col: Column{Table: "u", Name: "system_id"},
		Op:  OpEq,
		Val: Column{Table: "o", Name: "user_id"},
	})

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.WildcardTables["users"])
	assert.False(t, deps.WildcardTables["orders"])
	assert.True(t, deps.Tables["orders"])
}

func TestAnalyzeExpandsViewToPhysicalTables(t *testing.T) {
	s := testSchema()
	q := New("order_summary").SelectColumns("user_id")

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.Tables["orders"])
	assert.False(t, deps.Tables["order_summary"])
}

func TestAnalyzeJoinPredicateAcrossTables(t *testing.T) {
	s := testSchema()
	q := New("users").As("u")
	q.Select = []SelectItem{{Col: Column{Table: "u", Name: "email"}}}
	q.Join(JoinInner, "orders", "o", Cmp{
		Col: Column{Table: "u", Name: "system_id"},
		Op:  OpEq,
		Val: Column{Table: "o", Name: "user_id"},
	})

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.Tables["users"])
	assert.True(t, deps.Tables["orders"])
	assert.True(t, deps.Columns["users.system_id"])
	assert.True(t, deps.Columns["orders.user_id"])
}

func TestAnalyzeUnqualifiedColumnFallsBackToFirstInScopeTable(t *testing.T) {
	s := testSchema()
	q := New("users")
	q.Select = []SelectItem{{Col: Column{Name: "unknown_col"}}}

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.Columns["users.unknown_col"])
}

func TestAnalyzeBareAggregateWithoutGroupByIsWildcardLike(t *testing.T) {
	s := testSchema()
	q := New("orders")
	q.Select = []SelectItem{{Raw: "COUNT(*)", Alias: "n"}}

	deps, err := Analyze(s, q)
	require.NoError(t, err)
	assert.True(t, deps.Aggregates)
}

func TestQueryStructuralEqualityForStreamCache(t *testing.T) {
	a := New("users").SelectColumns("email")
	b := New("users").SelectColumns("email")
	assert.True(t, reflect.DeepEqual(a, b))
}
