package filetrack

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CleanupResult is the outcome of a CleanupOrphanedFiles call (spec.md
// section 4.4): counts plus the paths that fell into each bucket, and a
// derived Success flag. Grounded on
// wtb/infrastructure/file_tracking's FileCleanupResult, re-expressed with
// plain slices in place of the Python dataclass's frozen tuples (Go has
// no first-class immutable slice type; callers are trusted not to mutate
// a returned CleanupResult, same as every other value type in this
// module).
type CleanupResult struct {
	CheckpointID  string
	ExecutionID   string
	FilesDeleted  int
	FilesBackedUp int
	FilesSkipped  int
	DeletedPaths  []string
	BackedUpPaths []string
	SkippedPaths  []string
	Errors        []string
	DryRun        bool
}

// Success reports whether the cleanup completed without errors.
func (r CleanupResult) Success() bool { return len(r.Errors) == 0 }

// CleanupService implements C7: identifying files created in a workspace
// after a checkpoint was taken, and safely removing them during rollback.
// Grounded directly on
// wtb/infrastructure/file_tracking/cleanup_service.py's FileCleanupService
// (original_source) -- the discover/normalize/set-difference algorithm and
// the backup-then-delete safety model are carried over verbatim in
// semantics.
type CleanupService struct{}

// NewCleanupService returns a CleanupService. It is stateless: every
// method call is self-contained, so one instance may be shared freely.
func NewCleanupService() *CleanupService {
	return &CleanupService{}
}

// IdentifyOrphanedFiles returns paths under workspaceRoot that match
// trackPatterns, don't match excludePatterns, and were not present at
// targetCheckpoint according to files. Hidden directories (base name
// starting with ".") are skipped during the walk.
func (c *CleanupService) IdentifyOrphanedFiles(ctx context.Context, workspaceRoot string, trackPatterns, excludePatterns []string, filesAtCheckpoint []string) ([]string, error) {
	if len(trackPatterns) == 0 {
		return nil, nil
	}

	checkpointSet := make(map[string]bool, len(filesAtCheckpoint))
	for _, p := range filesAtCheckpoint {
		checkpointSet[normalizePath(p, workspaceRoot)] = true
	}

	current, err := discoverFiles(workspaceRoot, trackPatterns, excludePatterns)
	if err != nil {
		return nil, fmt.Errorf("filetrack: discover files: %w", err)
	}

	var orphaned []string
	for _, p := range current {
		if !checkpointSet[normalizePath(p, workspaceRoot)] {
			orphaned = append(orphaned, p)
		}
	}
	return orphaned, nil
}

func discoverFiles(workspaceRoot string, trackPatterns, excludePatterns []string) ([]string, error) {
	if _, err := os.Stat(workspaceRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var found []string
	err := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() != "." && len(d.Name()) > 0 && d.Name()[0] == '.' && path != workspaceRoot {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(workspaceRoot, path)
		if err != nil {
			return err
		}
		if !matchesAny(rel, trackPatterns) {
			return nil
		}
		if matchesAny(rel, excludePatterns) {
			return nil
		}
		found = append(found, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// matchesAny reports whether rel or its base name matches any of
// patterns, using filepath.Match's glob semantics.
func matchesAny(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func normalizePath(path, workspaceRoot string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspaceRoot, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// CleanupOrphanedFiles deletes orphanedPaths with the safety checks named
// in spec.md section 4.4: refuse outright if the set exceeds maxFiles and
// this isn't a dry run; otherwise back up (if backupDir is set) then
// delete each path, collecting per-path errors without aborting the
// batch.
func (c *CleanupService) CleanupOrphanedFiles(ctx context.Context, checkpointID, executionID string, orphanedPaths []string, backupDir string, dryRun bool, maxFiles int) CleanupResult {
	result := CleanupResult{CheckpointID: checkpointID, ExecutionID: executionID, DryRun: dryRun}

	if len(orphanedPaths) > maxFiles && !dryRun {
		result.FilesSkipped = len(orphanedPaths)
		result.SkippedPaths = append([]string(nil), orphanedPaths...)
		result.Errors = append(result.Errors, fmt.Sprintf(
			"refusing to delete %d files (exceeds max_files limit of %d)", len(orphanedPaths), maxFiles))
		return result
	}

	if backupDir != "" && !dryRun {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create backup dir: %v", err))
		}
	}

	for _, path := range orphanedPaths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				result.SkippedPaths = append(result.SkippedPaths, path)
				result.FilesSkipped++
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("stat %s: %v", path, err))
			result.SkippedPaths = append(result.SkippedPaths, path)
			result.FilesSkipped++
			continue
		}

		if dryRun {
			if backupDir != "" {
				result.BackedUpPaths = append(result.BackedUpPaths, path)
				result.FilesBackedUp++
			}
			result.DeletedPaths = append(result.DeletedPaths, path)
			result.FilesDeleted++
			continue
		}

		if backupDir != "" {
			if _, err := backupFile(path, backupDir); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("backup %s: %v", path, err))
				result.SkippedPaths = append(result.SkippedPaths, path)
				result.FilesSkipped++
				continue
			}
			result.BackedUpPaths = append(result.BackedUpPaths, path)
			result.FilesBackedUp++
		}

		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", path, err))
			result.SkippedPaths = append(result.SkippedPaths, path)
			result.FilesSkipped++
			continue
		}
		result.DeletedPaths = append(result.DeletedPaths, path)
		result.FilesDeleted++
	}

	return result
}

// backupFile copies path into backupDir, preserving its mode and
// prefixing the destination with a timestamp so repeated cleanups never
// collide (spec.md section 4.4's "backup_dir/{timestamp}_{basename}").
func backupFile(path, backupDir string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	timestamp := time.Now().UTC().Format("20060102_150405.000000")
	dest := filepath.Join(backupDir, fmt.Sprintf("%s_%s", timestamp, filepath.Base(path)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dest, data, info.Mode()); err != nil {
		return "", err
	}
	return dest, nil
}
