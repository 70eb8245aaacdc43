package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := b.Get(ctx, "history"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := b.Set(ctx, "history", `[{"id":"1"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, "history", `[{"id":"2"},{"id":"1"}]`); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, ok, err := b.Get(ctx, "history")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != `[{"id":"2"},{"id":"1"}]` {
		t.Fatalf("Get: got=%q", got)
	}
}

func TestMemory(t *testing.T) {
	exerciseBackend(t, NewMemory())
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	exerciseBackend(t, b)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "history.json" {
		t.Fatalf("dir entries: %v", entries)
	}

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile reopen: %v", err)
	}
	if _, ok, _ := reopened.Get(context.Background(), "history"); !ok {
		t.Fatal("value did not survive reopen")
	}
}

func TestFileCreatesNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := NewFile(dir); err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("dir not created: %v", err)
	}
}

func TestWithPrefix(t *testing.T) {
	ctx := context.Background()
	shared := NewMemory()
	a := WithPrefix(shared, "chat:1:")
	b := WithPrefix(shared, "chat:2:")

	exerciseBackend(t, a)

	if _, ok, _ := b.Get(ctx, "history"); ok {
		t.Fatal("namespaces leaked into each other")
	}
	if _, ok, _ := shared.Get(ctx, "chat:1:history"); !ok {
		t.Fatal("prefixed key not found in shared backend")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Config{Backend: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Fatalf("Open memory: got=%T", b)
	}

	b, err = Open(ctx, Config{Backend: "FILE", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := b.(*File); !ok {
		t.Fatalf("Open file: got=%T", b)
	}

	if _, err := Open(ctx, Config{Backend: "etcd"}); err == nil {
		t.Fatal("Open unknown: want error")
	}
	if _, err := Open(ctx, Config{Backend: "s3"}); err == nil {
		t.Fatal("Open s3 without bucket: want error")
	}
}
