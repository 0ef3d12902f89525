package fileset

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldAddAssignsFilesetIDOnFirstUse(t *testing.T) {
	repo := NewMemoryRepository()
	f := NewField("", repo)

	var assignedID string
	newID := func() string { assignedID = "fs1"; return assignedID }

	fileID, err := f.Add(context.Background(), newID, "a.txt", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, "fs1", f.ID())

	got, err := f.Get(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestFieldListAndDelete(t *testing.T) {
	repo := NewMemoryRepository()
	f := NewField("fs1", repo)

	id1, err := f.Add(context.Background(), func() string { return "fs1" }, "a.txt", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = f.Add(context.Background(), func() string { return "fs1" }, "b.txt", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	files, err := f.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)

	require.NoError(t, f.Delete(context.Background(), id1))
	files, err = f.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFieldNamesReturnsDisplayNamesOnly(t *testing.T) {
	repo := NewMemoryRepository()
	f := NewField("fs1", repo)
	_, err := f.Add(context.Background(), func() string { return "fs1" }, "a.txt", bytes.NewReader([]byte("a")))
	require.NoError(t, err)

	names, err := f.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)
}

func TestGCRemovesUnreferencedFilesets(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.AddFile(ctx, "live", "a.txt", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = repo.AddFile(ctx, "orphan", "b.txt", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	require.NoError(t, GC(ctx, repo, map[string]bool{"live": true}, nil))

	sets, err := repo.ListFilesets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, sets)
}

func TestGCRemovesUnreferencedFilesWithinALiveFileset(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	keepID, err := repo.AddFile(ctx, "live", "keep.txt", bytes.NewReader([]byte("k")))
	require.NoError(t, err)
	dropID, err := repo.AddFile(ctx, "live", "drop.txt", bytes.NewReader([]byte("d")))
	require.NoError(t, err)

	require.NoError(t, GC(ctx, repo, map[string]bool{"live": true},
		map[string]map[string]bool{"live": {keepID: true}}))

	files, err := repo.ListFiles(ctx, "live")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, keepID, files[0].ID)
	_ = dropID
}

func TestGCIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, GC(ctx, repo, map[string]bool{}, nil))
	require.NoError(t, GC(ctx, repo, map[string]bool{}, nil))
}
