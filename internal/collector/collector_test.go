package collector_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/logcollector/internal/audittrail"
	"github.com/tripwire/logcollector/internal/collector"
	"github.com/tripwire/logcollector/internal/watcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(%q): %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
}

func TestInitialize_RegistersExistingFileSeekedToEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "pre-existing\n")

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	stats := c.Snapshot()
	if len(stats) != 1 {
		t.Fatalf("len(Snapshot()) = %d, want 1", len(stats))
	}
	if stats[0].Offset != int64(len("pre-existing\n")) {
		t.Errorf("offset = %d, want %d", stats[0].Offset, len("pre-existing\n"))
	}
}

func TestCollectEntries_AppendEmitsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "")

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	appendFile(t, path, "line one\nline two\n")
	fw.pushFor(path)

	entries, err := c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Line != "line one" || entries[1].Line != "line two" {
		t.Errorf("entries = %+v", entries)
	}
	if entries[0].Path != path {
		t.Errorf("entries[0].Path = %q, want %q", entries[0].Path, path)
	}
}

func TestCollectEntries_PartialLineBuffered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "")

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	appendFile(t, path, "no newline yet")
	fw.pushFor(path)

	entries, err := c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d, want 0 for unterminated line", len(entries))
	}

	appendFile(t, path, " and now it ends\n")
	fw.pushFor(path)

	entries, err = c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	want := "no newline yet and now it ends"
	if entries[0].Line != want {
		t.Errorf("Line = %q, want %q", entries[0].Line, want)
	}
}

func TestCollectEntries_DirectoryCreateRegistersNewFile(t *testing.T) {
	dir := t.TempDir()

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	path := filepath.Join(dir, "b.log")
	writeFile(t, path, "content before watch\n")
	fw.pushFor(dir)

	entries, err := c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d, want 0: content preceding registration must not be emitted", len(entries))
	}

	stats := c.Snapshot()
	if len(stats) != 1 || stats[0].Path != path {
		t.Fatalf("Snapshot() = %+v, want one entry for %q", stats, path)
	}

	appendFile(t, path, "after registration\n")
	fw.pushFor(path)

	entries, err = c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Line != "after registration" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestCollectEntries_TruncateResetsCursor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "")

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	appendFile(t, path, "first line here\n")
	fw.pushFor(path)
	if _, err := c.CollectEntries(); err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}

	writeFile(t, path, "post\n")
	fw.pushFor(path)

	entries, err := c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Line != "post" {
		t.Fatalf("entries = %+v, want one entry \"post\"", entries)
	}
}

func TestRescan_PrunesStalePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "")

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	if len(c.Snapshot()) != 1 {
		t.Fatalf("expected one live file before removal")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	fw.pushFor(dir)

	if _, err := c.CollectEntries(); err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}

	if len(c.Snapshot()) != 0 {
		t.Fatalf("Snapshot() = %+v, want empty after stale path pruned", c.Snapshot())
	}
}

func TestRescan_DuplicateRootEventsInOneBatchRegisterOnce(t *testing.T) {
	dir := t.TempDir()

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	path := filepath.Join(dir, "a.log")
	writeFile(t, path, "")

	rootDesc := fw.descFor(dir)
	fw.push([]watcher.Event{{Desc: rootDesc}, {Desc: rootDesc}})

	if _, err := c.CollectEntries(); err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}

	if len(c.Snapshot()) != 1 {
		t.Fatalf("Snapshot() = %+v, want exactly one LiveFile for %q", c.Snapshot(), path)
	}
}

func TestCollectEntries_UnknownDescriptorIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()

	fw.push([]watcher.Event{{Desc: watcher.Descriptor(9999)}})

	entries, err := c.CollectEntries()
	if err != nil {
		t.Fatalf("CollectEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %+v, want none", entries)
	}
}

func TestWithAuditTrail_RecordsLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")

	a, err := audittrail.Open(auditPath)
	if err != nil {
		t.Fatalf("audittrail.Open: %v", err)
	}

	fw := newFakeWatcher()
	c, err := collector.Initialize(dir, fw, discardLogger(), collector.WithAuditTrail(a))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Close()
	defer a.Close()

	entries, err := audittrail.Verify(auditPath)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one audit entry for watch_root")
	}
	if entries[0].Kind != "watch_root" {
		t.Errorf("entries[0].Kind = %q, want watch_root", entries[0].Kind)
	}
}
