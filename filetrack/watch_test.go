package filetrack

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	triggered := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx, func() {
		select {
		case triggered <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was never called after a workspace write")
	}
}

func TestWatcherStartTwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer w.Stop()

	if err := w.Start(ctx, func() {}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := w.Start(ctx, func() {}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}
