package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunReportsWrittenFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan []string, 1)
	go func() {
		_ = w.Run(ctx, 50*time.Millisecond, func(paths []string) {
			select {
			case got <- paths:
			default:
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	target := filepath.Join(dir, "gap.go")
	if err := os.WriteFile(target, []byte("// TODO: fill this in"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case paths := <-got:
		if len(paths) == 0 {
			t.Fatal("expected at least one changed path")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for change notification")
	}
}

func TestNewSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git")
	if err := os.Mkdir(hidden, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w, err := New(dir, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.fsw.Close()

	for _, p := range w.fsw.WatchList() {
		if p == hidden {
			t.Fatalf("expected %s to be skipped, but it is watched", hidden)
		}
	}
}
