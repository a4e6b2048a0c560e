// Package filetrack implements content-addressed file tracking (C6) and
// post-rollback orphan cleanup (C7): spec.md section 4.4. Files are hashed
// with SHA-256, stored once per distinct hash, and grouped into FileCommit
// snapshots that CheckpointFileLink ties to a checkpoint.
package filetrack

import (
	"context"
	"fmt"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
)

// BlobStore is the content-addressed byte store a Service tracks files
// into. Implementations only need to honor "insert if absent" (spec.md
// section 5); they never need to interpret paths or commits.
type BlobStore interface {
	Put(ctx context.Context, hash string, data []byte) error
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// UoWBlobStore is a BlobStore that delegates to the same
// uow.BlobRepository every other primary-store write goes through, so a
// tracked file's bytes live in the same transactional store as its
// metadata (memstore's map or sqlstore's BLOB column). Grounded directly
// on uow.BlobRepository's "insert if absent" contract.
type UoWBlobStore struct {
	uowFac uow.Factory
}

// NewUoWBlobStore wraps uowFac as a BlobStore.
func NewUoWBlobStore(uowFac uow.Factory) *UoWBlobStore {
	return &UoWBlobStore{uowFac: uowFac}
}

func (s *UoWBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("filetrack: begin: %w", err)
	}
	if err := tx.Blobs().PutIfAbsent(ctx, domain.Blob{Hash: hash, Bytes: data}); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("filetrack: put blob: %w", err)
	}
	return tx.Commit()
}

func (s *UoWBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("filetrack: begin: %w", err)
	}
	blob, err := tx.Blobs().GetByHash(ctx, hash)
	_ = tx.Rollback()
	if err != nil {
		return nil, fmt.Errorf("filetrack: get blob: %w", err)
	}
	return blob.Bytes, nil
}

func (s *UoWBlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("filetrack: begin: %w", err)
	}
	ok, err := tx.Blobs().Exists(ctx, hash)
	_ = tx.Rollback()
	if err != nil {
		return false, fmt.Errorf("filetrack: blob exists: %w", err)
	}
	return ok, nil
}

var _ BlobStore = (*UoWBlobStore)(nil)
