// Package fileset implements fileset-column field operations and
// repository-backed blob storage with reachability garbage collection
// (spec.md §4.8).
package fileset

import (
	"context"
	"fmt"
	"io"

	"github.com/declarative-sqlite/dsqlite/util"
)

// FileInfo describes one file stored under a fileset id.
type FileInfo struct {
	ID   string
	Name string
	Size int64
}

// Repository is the external collaborator that owns fileset blob storage.
// A fileset id addresses a logical directory of files; Repository
// implementations may back this with a local filesystem, an in-memory map
// (for tests), or a remote object store.
type Repository interface {
	AddFile(ctx context.Context, filesetID, name string, r io.Reader) (fileID string, err error)
	ListFiles(ctx context.Context, filesetID string) ([]FileInfo, error)
	GetFile(ctx context.Context, filesetID, fileID string) ([]byte, error)
	DeleteFile(ctx context.Context, filesetID, fileID string) error

	// ListFilesets enumerates every fileset id known to the repository,
	// used by GC to find ids with no surviving column reference.
	ListFilesets(ctx context.Context) ([]string, error)
	// DeleteFileset removes an entire fileset and everything under it.
	DeleteFileset(ctx context.Context, filesetID string) error
}

// Field is the handle a caller obtains for one row's fileset column value.
// It is a thin wrapper binding a fileset id to the shared repository; it
// carries no row-mutation state of its own (saving a new fileset id back
// onto the row is the caller's responsibility via record.Record.Set).
type Field struct {
	id   string
	repo Repository
}

// NewField wraps an existing fileset id. An empty id denotes a column that
// has never had a file added; Add lazily assigns one via newID.
func NewField(id string, repo Repository) *Field {
	return &Field{id: id, repo: repo}
}

// ID returns the fileset id backing this field, or "" if none has been
// assigned yet.
func (f *Field) ID() string { return f.id }

// Add stores data under name, assigning a fresh fileset id on first use.
// The caller must persist the (possibly newly assigned) id back onto the
// owning row via Record.Set if ID() was empty before the call.
func (f *Field) Add(ctx context.Context, newID func() string, name string, r io.Reader) (fileID string, err error) {
	if f.id == "" {
		f.id = newID()
	}
	return f.repo.AddFile(ctx, f.id, name, r)
}

// List returns the files currently stored under this field's fileset id.
func (f *Field) List(ctx context.Context) ([]FileInfo, error) {
	if f.id == "" {
		return nil, nil
	}
	return f.repo.ListFiles(ctx, f.id)
}

// Names returns the display names of every file stored under this field's
// fileset id, in the same order List would return them. A convenience for
// callers that only want to render a file picker, not the full FileInfo.
func (f *Field) Names(ctx context.Context) ([]string, error) {
	files, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	return util.TransformSlice(files, func(fi FileInfo) string { return fi.Name }), nil
}

// Get returns the content of one file by id.
func (f *Field) Get(ctx context.Context, fileID string) ([]byte, error) {
	if f.id == "" {
		return nil, fmt.Errorf("fileset: field has no fileset id")
	}
	return f.repo.GetFile(ctx, f.id, fileID)
}

// Delete removes one file by id from this field's fileset.
func (f *Field) Delete(ctx context.Context, fileID string) error {
	if f.id == "" {
		return nil
	}
	return f.repo.DeleteFile(ctx, f.id, fileID)
}
