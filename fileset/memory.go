package fileset

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

type memoryFile struct {
	name string
	data []byte
}

// MemoryRepository is an in-process Repository backed by plain maps, used
// in tests and as a default for hosts with no durable blob store.
type MemoryRepository struct {
	mu       sync.Mutex
	filesets map[string]map[string]memoryFile // filesetID -> fileID -> file
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{filesets: map[string]map[string]memoryFile{}}
}

func (r *MemoryRepository) AddFile(ctx context.Context, filesetID, name string, data io.Reader) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filesets[filesetID] == nil {
		r.filesets[filesetID] = map[string]memoryFile{}
	}
	fileID := uuid.NewString()
	r.filesets[filesetID][fileID] = memoryFile{name: name, data: b}
	return fileID, nil
}

func (r *MemoryRepository) ListFiles(ctx context.Context, filesetID string) ([]FileInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FileInfo
	for id, f := range r.filesets[filesetID] {
		out = append(out, FileInfo{ID: id, Name: f.name, Size: int64(len(f.data))})
	}
	return out, nil
}

func (r *MemoryRepository) GetFile(ctx context.Context, filesetID, fileID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filesets[filesetID][fileID]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return f.data, nil
}

func (r *MemoryRepository) DeleteFile(ctx context.Context, filesetID, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filesets[filesetID], fileID)
	return nil
}

func (r *MemoryRepository) ListFilesets(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.filesets {
		out = append(out, id)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteFileset(ctx context.Context, filesetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filesets, filesetID)
	return nil
}
