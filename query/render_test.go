package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSimpleSelect(t *testing.T) {
	q := New("users").SelectColumns("id", "email")
	q.WhereExpr(Cmp{Col: Column{Name: "id"}, Op: OpEq, Val: "u1"})

	sql, args, err := Render(q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "email" FROM "users" WHERE "id" = ?`, sql)
	assert.Equal(t, []any{"u1"}, args)
}

func TestRenderJoinWithAliasAndOrderLimit(t *testing.T) {
	q := New("users").As("u")
	q.Select = []SelectItem{{Col: Column{Table: "u", Name: "email"}}}
	q.Join(JoinLeft, "orders", "o", Cmp{
		Col: Column{Table: "u", Name: "system_id"},
		Op:  OpEq,
		Val: Column{Table: "o", Name: "user_id"},
	})
	q.OrderByColumn(Column{Table: "u", Name: "email"}, true)
	q.WithLimit(10)

	sql, _, err := Render(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "u"."email" FROM "users" AS "u" LEFT JOIN "orders" AS "o" ON "u"."system_id" = "o"."user_id" ORDER BY "u"."email" DESC LIMIT 10`,
		sql)
}

func TestRenderInAndBetween(t *testing.T) {
	q := New("items")
	q.WhereExpr(And{Exprs: []Expr{
		In{Col: Column{Name: "status"}, List: []any{"a", "b"}},
		Between{Col: Column{Name: "stock"}, Low: 1, High: 10},
	}})

	sql, args, err := Render(q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "items" WHERE ("status" IN (?, ?)) AND ("stock" BETWEEN ? AND ?)`, sql)
	assert.Equal(t, []any{"a", "b", 1, 10}, args)
}
