package dsqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/query"
	"github.com/declarative-sqlite/dsqlite/schema"
)

func testSchema() *schema.Schema {
	return &schema.Schema{
		Tables: []schema.Table{
			{
				Name: "items",
				Columns: []schema.Column{
					{Name: "name", Storage: schema.StorageText, LWW: true},
					{Name: "qty", Storage: schema.StorageInteger, LWW: true},
				},
			},
			{
				Name: "tags",
				Columns: []schema.Column{
					{Name: "item_id", Storage: schema.StorageText, NotNull: true},
					{Name: "label", Storage: schema.StorageText, LWW: true},
				},
				References: []schema.Reference{
					{Column: "item_id", Referenced: "items", Policy: schema.CascadeCascade},
				},
			},
			{
				Name: "receipts",
				Columns: []schema.Column{
					{Name: "item_id", Storage: schema.StorageText, NotNull: true},
				},
				References: []schema.Reference{
					{Column: "item_id", Referenced: "items", Policy: schema.CascadeRestrict},
				},
			},
		},
	}
}

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", Options{Schema: testSchema()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenReconcilesDeclaredSchema(t *testing.T) {
	db := openTestDB(t)
	stats, err := db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TableCounts["items"])
	assert.Equal(t, 0, stats.DirtyRowCount)
}

func TestInsertStampsSystemColumnsAndJournals(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(3)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rows, err := db.Query(ctx, query.New("items").SelectAll())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "widget", rows[0].GetString("name"))
	assert.True(t, rows[0].IsLocalOrigin())

	dirty, err := db.GetDirtyRows(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].IsFullRow)
}

func TestUpdateAllowsLWWColumnOnRemoteOriginRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)

	_, err = db.engine.ExecContext(ctx, `UPDATE items SET system_is_local_origin = 0 WHERE system_id = ?`, id)
	require.NoError(t, err)

	// qty is LWW, so this must still succeed even though the row is now
	// remote-origin.
	n, err := db.Update(ctx, "items", map[string]any{"qty": int64(2)}, query.Cmp{
		Col: query.Column{Name: "system_id"}, Op: query.OpEq, Val: id,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateRejectsNonLWWColumnOnRemoteOriginRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "tags", map[string]any{"item_id": "whatever", "label": "red"})
	require.NoError(t, err)
	_, err = db.engine.ExecContext(ctx, `UPDATE tags SET system_is_local_origin = 0 WHERE system_id = ?`, id)
	require.NoError(t, err)

	// item_id is not LWW, so a remote-origin row must reject this update.
	_, err = db.Update(ctx, "tags", map[string]any{"item_id": "other"}, query.Cmp{
		Col: query.Column{Name: "system_id"}, Op: query.OpEq, Val: id,
	})
	require.Error(t, err)
}

func TestDeleteCascadesToChildTable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	itemID, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)
	_, err = db.Insert(ctx, "tags", map[string]any{"item_id": itemID, "label": "red"})
	require.NoError(t, err)

	n, err := db.Delete(ctx, "items", query.Cmp{Col: query.Column{Name: "system_id"}, Op: query.OpEq, Val: itemID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tags, err := db.QueryMaps(ctx, query.New("tags").SelectAll())
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestDeleteFailsWhenRestrictedDependentExists(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	itemID, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)
	_, err = db.Insert(ctx, "receipts", map[string]any{"item_id": itemID})
	require.NoError(t, err)

	_, err = db.Delete(ctx, "items", query.Cmp{Col: query.Column{Name: "system_id"}, Op: query.OpEq, Val: itemID})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, KindDelete, dsErr.Kind)
}

func TestRecordSaveRoutesThroughUpdate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)

	rows, err := db.Query(ctx, query.New("items").SelectAll())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, rows[0].Set("qty", int64(9)))
	require.NoError(t, rows[0].Save())

	reloaded, err := db.QueryMaps(ctx, query.New("items").SelectAll())
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	assert.EqualValues(t, 9, reloaded[0]["qty"])
	_ = id
}

func TestRecordReloadFailsAfterRowDeleted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)

	rows, err := db.Query(ctx, query.New("items").SelectAll())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = db.Delete(ctx, "items", query.Cmp{Col: query.Column{Name: "system_id"}, Op: query.OpEq, Val: id})
	require.NoError(t, err)

	err = rows[0].Reload()
	require.Error(t, err)
}

func uniqueSKUSchema() *schema.Schema {
	return &schema.Schema{
		Tables: []schema.Table{
			{
				Name: "skus",
				Columns: []schema.Column{
					{Name: "sku", Storage: schema.StorageText, NotNull: true},
				},
				Keys: []schema.Key{
					{Kind: schema.KeyUnique, Name: "skus_sku_unique", Columns: []string{"sku"}},
				},
			},
		},
	}
}

func TestBulkLoadConstraintThrowFailsOnDuplicateUniqueKey(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{Schema: uniqueSKUSchema(), BulkLoadOnDuplicate: ConstraintThrow})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := hlc.Timestamp{Millis: 1700000000000, Counter: 1, NodeID: "server"}.String()
	row := func(id string) map[string]any {
		return map[string]any{
			"system_id": id, "system_created_at": ts, "system_version": ts, "sku": "ABC-1",
		}
	}
	require.NoError(t, db.BulkLoad(ctx, "skus", []map[string]any{row("server-1")}))

	err = db.BulkLoad(ctx, "skus", []map[string]any{row("server-2")})
	require.Error(t, err)
}

func TestBulkLoadConstraintSkipIgnoresDuplicateUniqueKey(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", Options{Schema: uniqueSKUSchema(), BulkLoadOnDuplicate: ConstraintSkip})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := hlc.Timestamp{Millis: 1700000000000, Counter: 1, NodeID: "server"}.String()
	row := func(id string) map[string]any {
		return map[string]any{
			"system_id": id, "system_created_at": ts, "system_version": ts, "sku": "ABC-1",
		}
	}
	require.NoError(t, db.BulkLoad(ctx, "skus", []map[string]any{row("server-1")}))
	require.NoError(t, db.BulkLoad(ctx, "skus", []map[string]any{row("server-2")}))

	rows, err := db.QueryMaps(ctx, query.New("skus").SelectAll())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBulkLoadInsertsRemoteOriginRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ts := hlc.Timestamp{Millis: 1700000000000, Counter: 1, NodeID: "server"}.String()
	err := db.BulkLoad(ctx, "items", []map[string]any{
		{
			"system_id":         "server-1",
			"system_created_at": ts,
			"system_version":    ts,
			"name":              "from-server",
			"name__hlc":         ts,
			"qty":               int64(5),
			"qty__hlc":          ts,
		},
	})
	require.NoError(t, err)

	rows, err := db.QueryMaps(ctx, query.New("items").SelectAll())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "from-server", rows[0]["name"])
	assert.EqualValues(t, 0, rows[0]["system_is_local_origin"])
}
