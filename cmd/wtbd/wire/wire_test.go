package wire

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/config"
)

func TestBuildInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.FileStoreRoot = filepath.Join(t.TempDir(), "blobs")

	app, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if app.UoWFac == nil || app.Adapter == nil || app.Files == nil || app.External == nil {
		t.Fatal("Build left a collaborator nil")
	}

	proc := app.NewProcessor()
	if proc == nil {
		t.Fatal("NewProcessor returned nil")
	}

	checker := app.NewChecker()
	if _, err := checker.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestBuildRejectsUnknownStorageMode(t *testing.T) {
	cfg := config.Default()
	cfg.StorageMode = "bogus"

	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected an error for an unrecognized storage_mode")
	}
}

func TestOpenSQLRejectsUnknownScheme(t *testing.T) {
	if _, err := openSQL(context.Background(), "redis://localhost/0"); err == nil {
		t.Fatal("expected an error for an unrecognized primary_db_url scheme")
	}
}
