package filetrack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestTrackFilesDedupesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.txt", "same content")
	b := writeTemp(t, dir, "b.txt", "same content")

	db := memstore.NewDB()
	fac := memstore.Factory(db)
	svc := NewService(fac, NewUoWBlobStore(fac))

	commit, err := svc.TrackFiles(context.Background(), []string{a, b}, "dedup test")
	if err != nil {
		t.Fatalf("track files: %v", err)
	}
	if len(commit.Files) != 2 {
		t.Fatalf("expected 2 file entries, got %d", len(commit.Files))
	}
	if commit.Files[0].Hash != commit.Files[1].Hash {
		t.Fatalf("expected identical content to hash the same")
	}
}

func TestTrackAndLinkThenRestore(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "tracked.txt", "original content")

	db := memstore.NewDB()
	fac := memstore.Factory(db)
	svc := NewService(fac, NewUoWBlobStore(fac))
	ctx := context.Background()

	commit, err := svc.TrackAndLink(ctx, "cp-1", []string{src}, "snapshot")
	if err != nil {
		t.Fatalf("track and link: %v", err)
	}

	if err := os.WriteFile(src, []byte("mutated content"), 0o644); err != nil {
		t.Fatalf("mutate file: %v", err)
	}

	if err := svc.RestoreFromCheckpoint(ctx, "cp-1"); err != nil {
		t.Fatalf("restore from checkpoint: %v", err)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(data) != "original content" {
		t.Fatalf("expected restored content, got %q", data)
	}

	paths, err := svc.GetFilesAtCheckpoint(ctx, "cp-1")
	if err != nil {
		t.Fatalf("get files at checkpoint: %v", err)
	}
	if len(paths) != 1 || paths[0] != src {
		t.Fatalf("expected [%s], got %v", src, paths)
	}

	if commit.ID == "" {
		t.Fatalf("expected a non-empty commit id")
	}
}

func TestRestoreCommitRecreatesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "gone.txt", "will be deleted")

	db := memstore.NewDB()
	fac := memstore.Factory(db)
	svc := NewService(fac, NewUoWBlobStore(fac))
	ctx := context.Background()

	commit, err := svc.TrackFiles(ctx, []string{src}, "")
	if err != nil {
		t.Fatalf("track files: %v", err)
	}
	if err := os.Remove(src); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	if err := svc.RestoreCommit(ctx, commit.ID); err != nil {
		t.Fatalf("restore commit: %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("expected file to be recreated: %v", err)
	}
}
