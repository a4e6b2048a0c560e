package filetrack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// DiskBlobStore is a local-disk BlobStore alternative to UoWBlobStore, for
// deployments that want large file bodies kept off the primary store
// (e.g. a sql storage_mode pointed at a managed database with a small BLOB
// budget). Blobs are sharded two levels deep by hash prefix
// (root/ab/cd/<full hash>), to keep any single directory from growing
// unbounded.
type DiskBlobStore struct {
	root string
}

// NewDiskBlobStore roots a DiskBlobStore at dir, creating it if absent.
func NewDiskBlobStore(dir string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filetrack: create blob root: %w", err)
	}
	return &DiskBlobStore{root: dir}, nil
}

func (s *DiskBlobStore) pathFor(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash[2:4], hash)
}

func (s *DiskBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	if ok, err := s.Exists(ctx, hash); err != nil {
		return err
	} else if ok {
		return nil
	}
	target := s.pathFor(hash)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("filetrack: create blob shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("filetrack: create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filetrack: write temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filetrack: close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filetrack: rename temp blob: %w", err)
	}
	return nil
}

func (s *DiskBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wtberrors.ErrNotFound
		}
		return nil, fmt.Errorf("filetrack: read blob: %w", err)
	}
	return data, nil
}

func (s *DiskBlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(s.pathFor(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("filetrack: stat blob: %w", err)
}

var _ BlobStore = (*DiskBlobStore)(nil)
