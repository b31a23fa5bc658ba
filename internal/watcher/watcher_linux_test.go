//go:build linux

package watcher_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripwire/logcollector/internal/watcher"
)

// readOneEvent reads one batch of events from w within timeout, skipping
// empty (spurious) batches.
func readOneEvent(t *testing.T, w watcher.Watcher, timeout time.Duration) []watcher.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done := make(chan struct{})
		var events []watcher.Event
		var err error
		go func() {
			events, err = w.ReadEventsBlocking()
			close(done)
		}()

		select {
		case <-done:
			if err != nil {
				t.Fatalf("ReadEventsBlocking: %v", err)
			}
			if len(events) > 0 {
				return events
			}
		case <-time.After(timeout):
			t.Fatal("ReadEventsBlocking timed out")
		}
	}
	t.Fatal("no non-empty event batch observed within timeout")
	return nil
}

func TestInotifyWatcher_DirectoryCreate(t *testing.T) {
	dir := t.TempDir()

	w, err := watcher.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	rootDesc, err := w.WatchDirectory(dir)
	if err != nil {
		t.Fatalf("WatchDirectory: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		f, err := os.Create(filepath.Join(dir, "test.log"))
		if err != nil {
			t.Error(err)
			return
		}
		f.Close()
	}()

	events := readOneEvent(t, w, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Desc == rootDesc {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an event for the root descriptor, got %+v", events)
	}
}

func TestInotifyWatcher_FileModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := watcher.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	fileDesc, err := w.WatchFile(path)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Error(err)
			return
		}
		f.WriteString("hello\n")
		f.Close()
	}()

	events := readOneEvent(t, w, 2*time.Second)
	found := false
	for _, e := range events {
		if e.Desc == fileDesc {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an event for the watched file descriptor, got %+v", events)
	}
}

func TestInotifyWatcher_CloseUnblocksRead(t *testing.T) {
	w, err := watcher.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.ReadEventsBlocking()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != watcher.ErrClosed {
			t.Errorf("ReadEventsBlocking error = %v, want %v", err, watcher.ErrClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadEventsBlocking did not unblock after Close")
	}
}
