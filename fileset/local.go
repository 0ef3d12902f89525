package fileset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalRepository is a filesystem-backed Repository: one directory per
// fileset id, one file per file id within it.
type LocalRepository struct {
	baseDir string
}

// NewLocalRepository creates (if needed) baseDir and returns a repository
// rooted there.
func NewLocalRepository(baseDir string) (*LocalRepository, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fileset: create base dir: %w", err)
	}
	return &LocalRepository{baseDir: baseDir}, nil
}

func (r *LocalRepository) filesetDir(filesetID string) string {
	return filepath.Join(r.baseDir, filesetID)
}

func (r *LocalRepository) AddFile(ctx context.Context, filesetID, name string, data io.Reader) (string, error) {
	dir := r.filesetDir(filesetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fileset: create fileset dir: %w", err)
	}
	fileID := uuid.NewString()
	path := filepath.Join(dir, fileID+"__"+name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("fileset: create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return "", fmt.Errorf("fileset: write file: %w", err)
	}
	return fileID, nil
}

func (r *LocalRepository) ListFiles(ctx context.Context, filesetID string) ([]FileInfo, error) {
	entries, err := os.ReadDir(r.filesetDir(filesetID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fileset: list files: %w", err)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, name, ok := splitFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, FileInfo{ID: id, Name: name, Size: info.Size()})
	}
	return out, nil
}

func (r *LocalRepository) GetFile(ctx context.Context, filesetID, fileID string) ([]byte, error) {
	path, err := r.resolveFile(filesetID, fileID)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (r *LocalRepository) DeleteFile(ctx context.Context, filesetID, fileID string) error {
	path, err := r.resolveFile(filesetID, fileID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(path)
}

func (r *LocalRepository) ListFilesets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fileset: list filesets: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (r *LocalRepository) DeleteFileset(ctx context.Context, filesetID string) error {
	err := os.RemoveAll(r.filesetDir(filesetID))
	if err != nil {
		return fmt.Errorf("fileset: delete fileset: %w", err)
	}
	return nil
}

func (r *LocalRepository) resolveFile(filesetID, fileID string) (string, error) {
	entries, err := os.ReadDir(r.filesetDir(filesetID))
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		id, _, ok := splitFileName(e.Name())
		if ok && id == fileID {
			return filepath.Join(r.filesetDir(filesetID), e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}

// splitFileName recovers (fileID, name) from the "<fileID>__<name>" on-disk
// naming scheme.
func splitFileName(fileName string) (id, name string, ok bool) {
	for i := 0; i+1 < len(fileName); i++ {
		if fileName[i] == '_' && fileName[i+1] == '_' {
			return fileName[:i], fileName[i+2:], true
		}
	}
	return "", "", false
}
