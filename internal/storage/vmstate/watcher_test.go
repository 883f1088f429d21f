package vmstate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewWatcher_NonexistentDir(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/vmsnap/dir", WithWatcherLogger(quietLogger())); err == nil {
		t.Fatal("NewWatcher() expected error for nonexistent directory")
	}
}

func TestWatcher_OnChange_MultipleCallbacks(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var count int
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		w.OnChange(func(name string) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	w.notifyCallbacks("slot")

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("OnChange() count = %d, want 3", count)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.StartAsync()
	time.Sleep(50 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestWatcher_ReportsSnapshotChanges(t *testing.T) {
	e := newTestFileEngine(t, Config{})

	w, err := NewWatcher(e.Dir(), WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	changed := make(chan string, 32)
	w.OnChange(func(name string) {
		select {
		case changed <- name:
		default:
		}
	})
	w.StartAsync()
	defer w.Stop()

	// Wait for watcher to be ready
	time.Sleep(100 * time.Millisecond)

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(e.Dir(), "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	saveSnapshot(t, e, "slot1", []byte("state"), "t")

	waitFor(t, changed, "slot1")
	drain(changed)

	if err := e.Delete(context.Background(), "slot1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, changed, "slot1")
}

func waitFor(t *testing.T, changed <-chan string, want string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case name := <-changed:
			if name == want {
				return
			}
			t.Fatalf("callback for %q, want %q", name, want)
		case <-timeout:
			t.Fatalf("no change reported for %q within timeout", want)
		}
	}
}

func drain(changed <-chan string) {
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-changed:
		default:
			return
		}
	}
}

func TestSnapshotName(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/data/slot1.vmsnap", "slot1", true},
		{"/data/.hidden.vmsnap", ".hidden", true},
		{"/data/.vmsnap-123.tmp", "", false},
		{"/data/notes.txt", "", false},
		{"/data/.vmsnap", "", false},
	}
	for _, tt := range tests {
		got, ok := snapshotName(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("snapshotName(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
