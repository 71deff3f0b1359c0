package gateway

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crucible/internal/gateway/websocket"
)

func TestWatcherReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var reloads atomic.Int32
	hub := websocket.NewHub()
	go hub.Run()

	w, err := NewWatcher(hub, func(path string) error {
		reloads.Add(1)
		return nil
	}, cfgPath)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(cfgPath, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reloads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reload callback never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("a: 1\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var reloads atomic.Int32
	hub := websocket.NewHub()
	go hub.Run()

	w, err := NewWatcher(hub, func(path string) error {
		reloads.Add(1)
		return nil
	}, cfgPath)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// A burst of writes inside the debounce window collapses to one reload.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(cfgPath, []byte("a: 2\n"), 0644); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)

	if got := reloads.Load(); got != 1 {
		t.Errorf("reloads = %d, want 1", got)
	}
}
