// Package watcher abstracts over platform-specific kernel filesystem-event
// primitives behind a single, deliberately narrow contract: register
// interest in a directory or file and block until the kernel reports
// activity. It is the bottom layer of the log-collection core; the
// collector package turns its mask-free, name-free events into ordered
// LogEntry records.
//
// Build-tag conventions for platform-specific implementations, matching the
// teacher repository's per-OS split:
//
//	watcher_linux.go  (//go:build linux)  — inotify-based implementation
//	watcher_darwin.go (//go:build darwin) — kqueue/EVFILT_VNODE implementation
//	watcher_other.go  (//go:build !linux && !darwin) — stub that links but
//	                   delivers no events
//
// Platform-specific files register a constructor via init():
//
//	func init() { platformFactory = newInotifyWatcher }
package watcher

import "errors"

// ErrUnsupportedPlatform is returned by New when no platform-specific
// factory has been registered for the current build target, and by every
// watch and read call of the stub back-end used on targets other than
// Linux and Darwin.
var ErrUnsupportedPlatform = errors.New("watcher: no kernel event backend registered for this platform")

// ErrClosed is returned by ReadEventsBlocking once Close has been called.
var ErrClosed = errors.New("watcher: closed")

// Descriptor is an opaque, hashable, comparable handle identifying one
// watched filesystem object. Its inner representation is back-end specific
// (an inotify watch descriptor on Linux, a vnode file descriptor on
// Darwin) and never escapes this package's boundary in a way that exposes
// that representation.
type Descriptor int64

// Event carries the Descriptor of the watched object that changed.
// Deliberately mask-free and name-free: callers cannot depend on which
// kernel notice fired, only on which object it concerns. This is the
// minimum contract both back-ends can supply uniformly without leaking
// inotify-specific masks into a kqueue caller or vice versa.
type Event struct {
	Desc Descriptor
}

// Watcher is the platform-abstracted filesystem-event source. No unwatch,
// no filter configuration, no event-kind discrimination: the opacity is
// the point, forcing every back-end through the same rescan path in the
// collector.
type Watcher interface {
	// WatchDirectory registers interest in activity within path (entries
	// created in the directory). It returns an error if path cannot be
	// opened or registered.
	WatchDirectory(path string) (Descriptor, error)

	// WatchFile registers interest in modifications to the file at path.
	// It returns an error if path cannot be opened or registered.
	WatchFile(path string) (Descriptor, error)

	// ReadEventsBlocking blocks until at least one event is available, then
	// returns every event currently drained from the kernel. An empty
	// return is permitted only on spurious wake-ups; callers must tolerate
	// it. It returns ErrClosed after Close has been called.
	ReadEventsBlocking() ([]Event, error)

	// Close releases the kernel event queue and every file descriptor the
	// watcher owns. It is idempotent.
	Close() error
}

// platformFactory is the registered platform-specific constructor, set by
// the platform-specific file's init() function. When nil, New returns
// ErrUnsupportedPlatform.
var platformFactory func() (Watcher, error)

// New constructs a Watcher using the kernel event backend appropriate for
// the current platform: inotify on Linux, kqueue on Darwin. On every other
// target it returns a stub Watcher whose WatchDirectory, WatchFile and
// ReadEventsBlocking all return ErrUnsupportedPlatform. It returns a
// wrapped I/O error if the kernel refuses to create the event queue.
func New() (Watcher, error) {
	if platformFactory == nil {
		return nil, ErrUnsupportedPlatform
	}
	return platformFactory()
}
