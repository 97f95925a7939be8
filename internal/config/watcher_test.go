package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestWatcherReloadsAfterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Sync.DeviceName = "before"
	writeConfig(t, path, cfg)

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(next *Config) { reloaded <- next })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cfg.Sync.DeviceName = "after"
	writeConfig(t, path, cfg)

	select {
	case next := <-reloaded:
		if next.Sync.DeviceName != "after" {
			t.Errorf("DeviceName = %q, want after", next.Sync.DeviceName)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config write")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, DefaultConfig())

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(next *Config) { reloaded <- next })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Error("sibling file write triggered a reload")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	w.Stop()
}
