package dsqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawInsertBypassesSystemColumnsAndJournal(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.RawInsert(ctx,
		`INSERT INTO items (system_id, system_created_at, system_version, system_is_local_origin, name, qty) VALUES (?, ?, ?, ?, ?, ?)`,
		"raw-1", "x", "x", 1, "raw-widget", int64(7))
	require.NoError(t, err)

	rows, err := db.RawQuery(ctx, `SELECT name, qty FROM items WHERE system_id = ?`, "raw-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "raw-widget", rows[0]["name"])
	assert.EqualValues(t, 7, rows[0]["qty"])

	dirty, err := db.GetDirtyRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestRawUpdateAndRawDeleteReturnAffectedCountsWithoutJournaling(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.Insert(ctx, "items", map[string]any{"name": "widget", "qty": int64(1)})
	require.NoError(t, err)
	require.NoError(t, db.ClearDirtyRows(ctx))

	n, err := db.RawUpdate(ctx, `UPDATE items SET qty = ? WHERE system_id = ?`, int64(42), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err := db.RawQuery(ctx, `SELECT qty FROM items WHERE system_id = ?`, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 42, rows[0]["qty"])

	dirty, err := db.GetDirtyRows(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	n, err = db.RawDelete(ctx, `DELETE FROM items WHERE system_id = ?`, id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err = db.RawQuery(ctx, `SELECT * FROM items WHERE system_id = ?`, id)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
