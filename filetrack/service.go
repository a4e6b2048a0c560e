package filetrack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// Service is the C6 file-tracking service: it snapshots workspace files
// into content-addressed FileCommits and restores them back to disk.
// Grounded on wtb/domain/interfaces/file_tracking.py's IFileTrackingService
// (track_files/track_and_link/restore_commit/restore_from_checkpoint/
// get_files_at_checkpoint), re-expressed with Go's explicit error returns
// in place of the Python interface's exception hierarchy.
type Service struct {
	uowFac uow.Factory
	blobs  BlobStore
}

// NewService builds a Service persisting commit/link metadata through
// uowFac and blob bytes through blobs.
func NewService(uowFac uow.Factory, blobs BlobStore) *Service {
	return &Service{uowFac: uowFac, blobs: blobs}
}

func hashFile(path string) (string, int64, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, nil, fmt.Errorf("filetrack: read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), data, nil
}

// TrackFiles reads each of paths, stores its bytes under its SHA-256 hash
// if not already present, and records a FileCommit snapshotting the set.
func (s *Service) TrackFiles(ctx context.Context, paths []string, message string) (domain.FileCommit, error) {
	entries := make([]domain.FileEntry, 0, len(paths))
	for _, p := range paths {
		hash, size, data, err := hashFile(p)
		if err != nil {
			return domain.FileCommit{}, err
		}
		if err := s.blobs.Put(ctx, hash, data); err != nil {
			return domain.FileCommit{}, fmt.Errorf("filetrack: store blob for %s: %w", p, err)
		}
		entries = append(entries, domain.FileEntry{Path: p, Hash: hash, Size: size})
	}

	commit := domain.FileCommit{
		ID:        uuid.New().String(),
		Files:     entries,
		CreatedAt: time.Now(),
		Message:   message,
	}

	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return domain.FileCommit{}, fmt.Errorf("filetrack: begin: %w", err)
	}
	saved, err := tx.FileCommits().Add(ctx, commit)
	if err != nil {
		_ = tx.Rollback()
		return domain.FileCommit{}, fmt.Errorf("filetrack: add commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.FileCommit{}, fmt.Errorf("filetrack: commit: %w", err)
	}
	return saved, nil
}

// TrackAndLink tracks paths and links the resulting commit to
// checkpointID in a single transaction: the FileCommit row and the
// CheckpointFileLink row commit together (spec.md section 4.4).
func (s *Service) TrackAndLink(ctx context.Context, checkpointID string, paths []string, message string) (domain.FileCommit, error) {
	entries := make([]domain.FileEntry, 0, len(paths))
	var totalSize int64
	for _, p := range paths {
		hash, size, data, err := hashFile(p)
		if err != nil {
			return domain.FileCommit{}, err
		}
		if err := s.blobs.Put(ctx, hash, data); err != nil {
			return domain.FileCommit{}, fmt.Errorf("filetrack: store blob for %s: %w", p, err)
		}
		entries = append(entries, domain.FileEntry{Path: p, Hash: hash, Size: size})
		totalSize += size
	}

	commit := domain.FileCommit{
		ID:        uuid.New().String(),
		Files:     entries,
		CreatedAt: time.Now(),
		Message:   message,
	}

	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return domain.FileCommit{}, fmt.Errorf("filetrack: begin: %w", err)
	}
	saved, err := tx.FileCommits().Add(ctx, commit)
	if err != nil {
		_ = tx.Rollback()
		return domain.FileCommit{}, fmt.Errorf("filetrack: add commit: %w", err)
	}
	if err := tx.CheckpointFiles().Add(ctx, domain.CheckpointFileLink{
		CheckpointID: checkpointID,
		FileCommitID: saved.ID,
		FileCount:    len(entries),
		TotalSize:    totalSize,
	}); err != nil {
		_ = tx.Rollback()
		return domain.FileCommit{}, fmt.Errorf("filetrack: link commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.FileCommit{}, fmt.Errorf("filetrack: commit: %w", err)
	}
	return saved, nil
}

// RestoreCommit writes each (path, bytes) pair from commitID back to
// disk, creating parent directories as needed and replacing any existing
// file atomically (write-temp-then-rename, spec.md section 4.4).
func (s *Service) RestoreCommit(ctx context.Context, commitID string) error {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("filetrack: begin: %w", err)
	}
	commit, err := tx.FileCommits().GetByID(ctx, commitID)
	_ = tx.Rollback()
	if err != nil {
		return fmt.Errorf("filetrack: load commit: %w", err)
	}

	for _, entry := range commit.Files {
		data, err := s.blobs.Get(ctx, entry.Hash)
		if err != nil {
			return fmt.Errorf("filetrack: restore %s: %w", entry.Path, err)
		}
		if err := writeFileAtomically(entry.Path, data); err != nil {
			return fmt.Errorf("filetrack: restore %s: %w", entry.Path, err)
		}
	}
	return nil
}

// RestoreFromCheckpoint looks up checkpointID's linked commit, then
// restores it.
func (s *Service) RestoreFromCheckpoint(ctx context.Context, checkpointID string) error {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("filetrack: begin: %w", err)
	}
	link, err := tx.CheckpointFiles().GetByCheckpoint(ctx, checkpointID)
	_ = tx.Rollback()
	if err != nil {
		return fmt.Errorf("filetrack: load link: %w", err)
	}
	return s.RestoreCommit(ctx, link.FileCommitID)
}

// GetFilesAtCheckpoint joins CheckpointFileLink -> FileCommit and returns
// the paths that existed at checkpointID.
func (s *Service) GetFilesAtCheckpoint(ctx context.Context, checkpointID string) ([]string, error) {
	tx, err := s.uowFac().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("filetrack: begin: %w", err)
	}
	link, err := tx.CheckpointFiles().GetByCheckpoint(ctx, checkpointID)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, wtberrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("filetrack: load link: %w", err)
	}
	commit, err := tx.FileCommits().GetByID(ctx, link.FileCommitID)
	_ = tx.Rollback()
	if err != nil {
		return nil, fmt.Errorf("filetrack: load commit: %w", err)
	}
	paths := make([]string, 0, len(commit.Files))
	for _, f := range commit.Files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

func writeFileAtomically(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "restore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
