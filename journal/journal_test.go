package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestJournal(t *testing.T) (*Journal, *sql.DB) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(CreateTableDDL)
	require.NoError(t, err)
	return New(db, nil), db
}

func tick(clock *hlc.Clock) hlc.Timestamp { return clock.Now() }

func TestAddCollapsesRepeatedUpdatesIntoOneFullEntry(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t)
	clock := hlc.New("n1")

	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: true,
		Data: map[string]any{"name": "first"},
	}))
	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: true,
		Data: map[string]any{"name": "second"},
	}))

	all, err := j.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsFullRow)
	assert.Equal(t, "second", all[0].Data["name"])
}

func TestPartialThenFullStaysFull(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t)
	clock := hlc.New("n1")

	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: false,
		Data: map[string]any{"name": "partial"},
	}))
	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: true,
		Data: map[string]any{"name": "full", "stock": 3},
	}))

	all, err := j.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsFullRow)
	assert.Equal(t, "full", all[0].Data["name"])
}

func TestPartialMergeLatestWinsPerColumn(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t)
	clock := hlc.New("n1")

	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: false,
		Data: map[string]any{"name": "a", "name__hlc": "x"},
	}))
	require.NoError(t, j.Add(ctx, Entry{
		TableName: "products", RowID: "r1", HLC: tick(clock), IsFullRow: false,
		Data: map[string]any{"stock": "5"},
	}))

	all, err := j.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsFullRow)
	assert.Equal(t, "a", all[0].Data["name"])
	assert.Equal(t, "5", all[0].Data["stock"])
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t)
	clock := hlc.New("n1")
	require.NoError(t, j.Add(ctx, Entry{TableName: "t", RowID: "r", HLC: tick(clock), IsFullRow: true}))

	entries := []Entry{{TableName: "t", RowID: "r"}}
	require.NoError(t, j.Remove(ctx, entries))
	require.NoError(t, j.Remove(ctx, entries))

	all, err := j.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOnRowAddedDeliversEveryAddInOrder(t *testing.T) {
	ctx := context.Background()
	j, _ := newTestJournal(t)
	clock := hlc.New("n1")

	ch, cancel := j.OnRowAdded()
	defer cancel()

	require.NoError(t, j.Add(ctx, Entry{TableName: "t", RowID: "r1", HLC: tick(clock), IsFullRow: true}))
	require.NoError(t, j.Add(ctx, Entry{TableName: "t", RowID: "r2", HLC: tick(clock), IsFullRow: true}))

	select {
	case e := <-ch:
		assert.Equal(t, "r1", e.RowID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first entry")
	}
	select {
	case e := <-ch:
		assert.Equal(t, "r2", e.RowID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second entry")
	}
}
