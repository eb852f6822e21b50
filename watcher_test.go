package veil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veil.yaml")
	if err := os.WriteFile(path, []byte("max_depth: 8\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := make(chan *Config, 4)
	w, err := WatchConfig(context.Background(), path, zaptest.NewLogger(t), func(cfg *Config) {
		changes <- cfg
	})
	if err != nil {
		t.Fatalf("WatchConfig failed: %v", err)
	}
	defer func() { _ = w.Stop() }()

	if got := w.Current().MaxDepth; got != 8 {
		t.Fatalf("initial MaxDepth = %d, want 8", got)
	}

	// An invalid revision is ignored.
	if err := os.WriteFile(path, []byte("max_depth: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := w.Current().MaxDepth; got != 8 {
		t.Errorf("MaxDepth = %d after invalid revision, want 8", got)
	}

	if err := os.WriteFile(path, []byte("max_depth: 16\nstrict: true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-changes:
		if cfg.MaxDepth != 16 || !cfg.Strict {
			t.Errorf("reloaded config = %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
	if got := w.Current().MaxDepth; got != 16 {
		t.Errorf("Current().MaxDepth = %d, want 16", got)
	}
}

func TestWatchConfigStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veil.yaml")
	if err := os.WriteFile(path, []byte("strict: false\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := WatchConfig(context.Background(), path, nil, nil)
	if err != nil {
		t.Fatalf("WatchConfig failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestWatchConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := WatchConfig(context.Background(), filepath.Join(dir, "missing.yaml"), nil, nil); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("max_depth: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := WatchConfig(context.Background(), bad, nil, nil); err == nil {
		t.Error("expected error for invalid config")
	}
}
