// Package collector implements the state machine that owns a Watcher, a
// root-path descriptor, and a table of live files with their read cursors,
// translating raw watcher events into an ordered sequence of LogEntry
// records.
//
// The Collector is not safe for concurrent use: it must be owned by
// exactly one goroutine, which calls CollectEntries in a loop. The only
// blocking call anywhere in this package is the Watcher's
// ReadEventsBlocking; every other operation here is synchronous file I/O.
package collector

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tripwire/logcollector/internal/audittrail"
	"github.com/tripwire/logcollector/internal/watcher"
)

// readBufSize is the chunk size used when draining a watched file. It has
// no bearing on correctness — only on how many syscalls a large write
// costs to drain.
const readBufSize = 64 * 1024

// LogEntry is the collector's output record: one line of a watched file,
// with its terminating newline stripped.
type LogEntry struct {
	Path string
	Line string
}

// liveFile is the per-file state the collector retains between calls to
// CollectEntries. Invariant: file's OS-level read offset always equals the
// byte offset just past the last '\n' emitted as part of a LogEntry plus
// len(partial) (every byte read is either emitted or held in partial), or
// end-of-file at the moment the file was registered.
type liveFile struct {
	path    string
	file    *os.File
	partial []byte // entry_buf: a line not yet terminated by '\n'
}

// Collector owns a Watcher, the canonical root directory it watches, and
// the live_files/watched_paths tables described in the design. Construct
// one with Initialize.
type Collector struct {
	w        watcher.Watcher
	rootPath string
	rootDesc watcher.Descriptor

	liveFiles    map[watcher.Descriptor]*liveFile
	watchedPaths map[string]watcher.Descriptor

	logger *slog.Logger
	audit  *audittrail.Logger // optional; nil disables the audit trail
}

// Option configures optional Collector behavior.
type Option func(*Collector)

// WithAuditTrail attaches a hash-chained audit log that records collector
// lifecycle events (watch registered, file discovered, truncate detected).
func WithAuditTrail(a *audittrail.Logger) Option {
	return func(c *Collector) { c.audit = a }
}

// Initialize registers rootPath with the given Watcher, enumerates it
// synchronously, and registers every existing regular file as a live file
// seeked to end-of-file, so that no content written before Initialize
// returns is ever emitted. rootPath must exist and be a readable
// directory.
func Initialize(rootPath string, w watcher.Watcher, logger *slog.Logger, opts ...Option) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, &ConfigurationError{Path: rootPath, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Path: rootPath, Err: fmt.Errorf("not a directory")}
	}

	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, &ConfigurationError{Path: rootPath, Err: err}
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	rootDesc, err := w.WatchDirectory(root)
	if err != nil {
		return nil, &WatchRegistrationError{Path: root, Err: err}
	}

	c := &Collector{
		w:            w,
		rootPath:     root,
		rootDesc:     rootDesc,
		liveFiles:    make(map[watcher.Descriptor]*liveFile),
		watchedPaths: make(map[string]watcher.Descriptor),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.auditEvent("watch_root", root, nil)

	children, err := c.listChildren()
	if err != nil {
		return nil, err
	}
	for _, path := range children {
		if err := c.registerCreate(path); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RootPath returns the canonical directory this collector watches.
func (c *Collector) RootPath() string { return c.rootPath }

// LiveFileStats is a read-only snapshot of one tracked file's cursor,
// exposed for operator tooling (see cmd/collector's /debug/live-files).
type LiveFileStats struct {
	Path   string
	Offset int64
}

// Snapshot returns the current live-file table. It must only be called
// from the same goroutine that owns the Collector.
func (c *Collector) Snapshot() []LiveFileStats {
	stats := make([]LiveFileStats, 0, len(c.liveFiles))
	for _, lf := range c.liveFiles {
		offset, _ := lf.file.Seek(0, io.SeekCurrent)
		stats = append(stats, LiveFileStats{Path: lf.path, Offset: offset})
	}
	return stats
}

// Close releases the Collector's Watcher, which in turn releases every
// watch and any file descriptors it owns. Readers opened by the Collector
// itself (distinct from the Watcher's own descriptors, per §5) are closed
// here too.
func (c *Collector) Close() error {
	var firstErr error
	for _, lf := range c.liveFiles {
		if err := lf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.w.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CollectEntries blocks until at least one event fires, processes every
// event drained in that wake-up, and returns every LogEntry produced.
// Create events uncovered during a directory rescan are processed after
// every modification event in the same batch, so a brand-new file cannot
// interleave stale content with older files' appends.
func (c *Collector) CollectEntries() ([]LogEntry, error) {
	events, err := c.w.ReadEventsBlocking()
	if err != nil {
		if err == watcher.ErrClosed {
			return nil, err
		}
		return nil, &KernelEventError{Err: err}
	}

	var entries []LogEntry
	var newPaths []string
	claimed := make(map[string]struct{})

	for _, ev := range events {
		switch {
		case ev.Desc == c.rootDesc:
			paths, err := c.rescan(claimed)
			if err != nil {
				return nil, err
			}
			newPaths = append(newPaths, paths...)

		default:
			lf, ok := c.liveFiles[ev.Desc]
			if !ok {
				c.logger.Warn("collector: event for unknown descriptor; dropping",
					slog.Int64("descriptor", int64(ev.Desc)))
				continue
			}
			fileEntries, err := c.handleFileEvent(lf)
			if err != nil {
				return nil, err
			}
			entries = append(entries, fileEntries...)
		}
	}

	// Creates are applied after every modification event in this batch so
	// a file discovered mid-batch cannot emit content ahead of files that
	// were already being tailed.
	for _, path := range newPaths {
		if err := c.registerCreate(path); err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// listChildren returns the canonical paths of every immediate, regular
// file child of the root directory.
func (c *Collector) listChildren() ([]string, error) {
	dirEntries, err := os.ReadDir(c.rootPath)
	if err != nil {
		return nil, &FileIoError{Path: c.rootPath, Err: err}
	}

	var paths []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue // non-recursive: see Non-goals.
		}
		info, err := de.Info()
		if err != nil {
			return nil, &FileIoError{Path: filepath.Join(c.rootPath, de.Name()), Err: err}
		}
		if !info.Mode().IsRegular() {
			continue
		}
		child := filepath.Join(c.rootPath, de.Name())
		canonical, err := filepath.EvalSymlinks(child)
		if err != nil {
			return nil, &FileIoError{Path: child, Err: err}
		}
		paths = append(paths, canonical)
	}
	return paths, nil
}

// rescan enumerates the root directory and returns the canonical paths of
// children not already present in watched_paths. claimed tracks paths
// already returned as newly discovered by an earlier rescan call within the
// same CollectEntries batch: two root-descriptor events in one wake-up (for
// example two IN_CREATE records for files created back-to-back) must not
// both report the same path, since watched_paths itself is only updated
// once the batch's deferred registerCreate calls run. rescan both consults
// and extends claimed so a path is reported as newly discovered at most
// once per batch. It also prunes live_files/watched_paths entries whose
// path is no longer present in the directory, rather than leaving them
// stale indefinitely.
func (c *Collector) rescan(claimed map[string]struct{}) ([]string, error) {
	children, err := c.listChildren()
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(children))
	var created []string
	for _, path := range children {
		current[path] = struct{}{}
		if _, known := c.watchedPaths[path]; known {
			continue
		}
		if _, already := claimed[path]; already {
			continue
		}
		claimed[path] = struct{}{}
		created = append(created, path)
	}

	for path, desc := range c.watchedPaths {
		if _, present := current[path]; present {
			continue
		}
		if lf, ok := c.liveFiles[desc]; ok {
			_ = lf.file.Close()
			delete(c.liveFiles, desc)
		}
		delete(c.watchedPaths, path)
		c.auditEvent("prune_stale_path", path, nil)
	}

	return created, nil
}

// registerCreate opens path, watches it for modification, seeks the reader
// to end-of-file so no pre-existing content is ever emitted, and inserts
// it into both tracking tables. The same function handles both the
// Initialize-time registration and create events uncovered by a rescan.
func (c *Collector) registerCreate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &WatchRegistrationError{Path: path, Err: err}
	}

	desc, err := c.w.WatchFile(path)
	if err != nil {
		f.Close()
		return &WatchRegistrationError{Path: path, Err: err}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return &FileIoError{Path: path, Err: err}
	}

	c.liveFiles[desc] = &liveFile{path: path, file: f}
	c.watchedPaths[path] = desc

	c.auditEvent("file_registered", path, nil)
	return nil
}

// handleFileEvent classifies a file-change event as Append or Truncate by
// comparing the reader's cursor against the file's current length on disk.
func (c *Collector) handleFileEvent(lf *liveFile) ([]LogEntry, error) {
	info, err := lf.file.Stat()
	if err != nil {
		return nil, &FileIoError{Path: lf.path, Err: err}
	}
	cursor, err := lf.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &FileIoError{Path: lf.path, Err: err}
	}

	if cursor > info.Size() {
		return c.handleTruncate(lf)
	}
	return c.appendLoop(lf)
}

// handleTruncate seeks the reader back to offset 0, clears the partial
// line buffer, and re-enters the append loop so whatever content now
// exists from the start is drained. This is the only back-edge in the
// per-LiveFile state machine.
func (c *Collector) handleTruncate(lf *liveFile) ([]LogEntry, error) {
	c.auditEvent("truncate_detected", lf.path, nil)
	if _, err := lf.file.Seek(0, io.SeekStart); err != nil {
		return nil, &FileIoError{Path: lf.path, Err: err}
	}
	lf.partial = lf.partial[:0]
	return c.appendLoop(lf)
}

// appendLoop reads from the file until a zero-byte read (true EOF),
// emitting one LogEntry per complete line found and leaving any trailing
// partial line in entry_buf for the next call to concatenate.
func (c *Collector) appendLoop(lf *liveFile) ([]LogEntry, error) {
	var entries []LogEntry
	buf := make([]byte, readBufSize)

	for {
		n, err := lf.file.Read(buf)
		if n > 0 {
			lf.partial = append(lf.partial, buf[:n]...)
			for {
				idx := bytes.IndexByte(lf.partial, '\n')
				if idx < 0 {
					break
				}
				entries = append(entries, LogEntry{Path: lf.path, Line: string(lf.partial[:idx])})
				lf.partial = append([]byte(nil), lf.partial[idx+1:]...)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, &FileIoError{Path: lf.path, Err: err}
		}
		if n == 0 {
			break
		}
	}

	return entries, nil
}

// auditEvent best-effort records a lifecycle event if an audit trail is
// attached. Audit failures are logged but never fail the calling
// operation: the audit trail is observability, not part of the collector's
// correctness contract.
func (c *Collector) auditEvent(kind, path string, extra map[string]any) {
	if c.audit == nil {
		return
	}
	if _, err := c.audit.AppendEvent(kind, path, extra); err != nil {
		c.logger.Warn("collector: audit trail append failed", slog.Any("error", err))
	}
}
