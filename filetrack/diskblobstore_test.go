package filetrack

import (
	"context"
	"testing"
)

func TestDiskBlobStorePutIfAbsentIsIdempotent(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk blob store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "abc123", []byte("payload")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.Put(ctx, "abc123", []byte("different payload, should be ignored")); err != nil {
		t.Fatalf("second put: %v", err)
	}

	data, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected the first write to win, got %q", data)
	}
}

func TestDiskBlobStoreExistsAndMissing(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("new disk blob store: %v", err)
	}
	ctx := context.Background()

	if ok, err := store.Exists(ctx, "nope"); err != nil || ok {
		t.Fatalf("expected nope to not exist, ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "present", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := store.Exists(ctx, "present"); err != nil || !ok {
		t.Fatalf("expected present to exist, ok=%v err=%v", ok, err)
	}
}
