package sync

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declarative-sqlite/dsqlite/hlc"
	"github.com/declarative-sqlite/dsqlite/journal"

	_ "modernc.org/sqlite"
)

func newTestManager(t *testing.T) (*Manager, *sql.DB) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(journal.CreateTableDDL)
	require.NoError(t, err)
	_, err = db.Exec(CreateTableDDL)
	require.NoError(t, err)

	j := journal.New(db, nil)
	return NewManager(db, j, Config{BatchSize: 2, MaxConcurrency: 2}, nil), db
}

func addEntries(t *testing.T, j *journal.Journal, n int) {
	t.Helper()
	clock := hlc.New("n1")
	for i := 0; i < n; i++ {
		require.NoError(t, j.Add(context.Background(), journal.Entry{
			TableName: "items", RowID: fmt.Sprintf("r%d", i), HLC: clock.Now(), IsFullRow: true,
			Data: map[string]any{"name": fmt.Sprintf("item-%d", i)},
		}))
	}
}

func TestUploadRemovesAcceptedBatches(t *testing.T) {
	m, db := newTestManager(t)
	j := journal.New(db, nil)
	addEntries(t, j, 5)

	err := m.Upload(context.Background(), func(ctx context.Context, batch []journal.Entry) (Outcome, error) {
		return Accepted, nil
	})
	require.NoError(t, err)

	all, err := j.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUploadDiscardsOnHardFailure(t *testing.T) {
	m, db := newTestManager(t)
	j := journal.New(db, nil)
	addEntries(t, j, 2)

	err := m.Upload(context.Background(), func(ctx context.Context, batch []journal.Entry) (Outcome, error) {
		return HardFailure, fmt.Errorf("rejected")
	})
	require.NoError(t, err)

	all, err := j.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUploadLeavesEntriesOnSoftFailure(t *testing.T) {
	m, db := newTestManager(t)
	j := journal.New(db, nil)
	addEntries(t, j, 2)

	err := m.Upload(context.Background(), func(ctx context.Context, batch []journal.Entry) (Outcome, error) {
		return SoftFailure, fmt.Errorf("timeout")
	})
	require.NoError(t, err)

	all, err := j.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFetchPersistsAdvancedHighWaterMarks(t *testing.T) {
	m, _ := newTestManager(t)
	serverTS := hlc.Timestamp{Millis: 1000, Counter: 1, NodeID: "server"}

	err := m.Fetch(context.Background(), []string{"items"}, func(ctx context.Context, db *sql.DB, highWater map[string]hlc.Timestamp) (map[string]hlc.Timestamp, error) {
		assert.True(t, highWater["items"].IsZero())
		return map[string]hlc.Timestamp{"items": serverTS}, nil
	})
	require.NoError(t, err)

	marks, err := m.HighWaterMarks(context.Background(), []string{"items"})
	require.NoError(t, err)
	assert.Equal(t, serverTS, marks["items"])
}
