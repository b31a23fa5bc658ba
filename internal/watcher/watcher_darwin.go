// Package watcher: Darwin back-end built on kqueue/EVFILT_VNODE.
//
//go:build darwin

package watcher

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

func init() {
	platformFactory = newKqueueWatcher
}

// vnodeFflags is the set of vnode events registered on every watched
// descriptor, file or directory alike. NOTE_WRITE covers both "file
// content changed" and, for a directory descriptor, "a child entry was
// added" — the kernel's only way of reporting the latter, which is why
// the collector treats a directory write as "rescan this directory".
const vnodeFflags = unix.NOTE_WRITE

// kqueueWatcher is the Darwin kqueue-backed implementation of Watcher. The
// kernel holds a raw file descriptor as watch identity; closing that
// descriptor silently ends the watch, so the watcher retains ownership of
// every opened file for the lifetime of the watch and closes them all in
// Close.
type kqueueWatcher struct {
	kq int

	// pipeR/pipeW form a self-pipe registered with EVFILT_READ so that
	// Close can unblock a pending kevent(2) call; kqueue has no dedicated
	// cancellation filter portable across registrations made from another
	// goroutine.
	pipeR int
	pipeW int

	mu     sync.Mutex
	owned  map[int]*os.File // watched fd -> the file we opened it from
	closed bool
}

func newKqueueWatcher() (Watcher, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("watcher: kqueue: %w", err)
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("watcher: self-pipe: %w", err)
	}

	w := &kqueueWatcher{kq: kq, pipeR: fds[0], pipeW: fds[1], owned: make(map[int]*os.File)}

	// Register the read end of the self-pipe so ReadEventsBlocking can be
	// woken by Close without a timeout-polling loop.
	change := unix.Kevent_t{
		Ident:  uint64(fds[0]),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{change}, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("watcher: register wake pipe: %w", err)
	}

	return w, nil
}

func (w *kqueueWatcher) WatchDirectory(path string) (Descriptor, error) {
	return w.registerVnode(path)
}

func (w *kqueueWatcher) WatchFile(path string) (Descriptor, error) {
	return w.registerVnode(path)
}

// registerVnode opens path, retains the resulting *os.File so the kernel's
// watch identity stays alive, registers an EVFILT_VNODE filter for it, and
// issues the queue-refresh call this back-end needs before a new
// registration is live.
func (w *kqueueWatcher) registerVnode(path string) (Descriptor, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("watcher: open %q: %w", path, err)
	}
	fd := int(f.Fd())

	change := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR,
		Fflags: vnodeFflags,
	}
	// Submitting via Kevent with a nil events slice both registers the
	// change and forces the kqueue to pick it up immediately: without
	// this call a registration made while another goroutine blocks in
	// kevent(2) is not guaranteed to be live until the next wake-up.
	if _, err := unix.Kevent(w.kq, []unix.Kevent_t{change}, nil, nil); err != nil {
		f.Close()
		return 0, fmt.Errorf("watcher: register vnode watch on %q: %w", path, err)
	}

	w.mu.Lock()
	w.owned[fd] = f
	w.mu.Unlock()

	return Descriptor(fd), nil
}

func (w *kqueueWatcher) ReadEventsBlocking() ([]Event, error) {
	events := make([]unix.Kevent_t, 1)
	// A nil timeout blocks indefinitely, matching the contract's single
	// suspension point.
	n, err := unix.Kevent(w.kq, nil, events, nil)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("watcher: kevent: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ev := events[0]

	if ev.Filter == unix.EVFILT_READ && int(ev.Ident) == w.pipeR {
		return nil, ErrClosed
	}

	// Any other shape is a programming error in registration: this back-end
	// only ever registers EVFILT_VNODE filters with the "write" flag, so
	// anything else violates the watcher's internal assumptions and is a
	// panic-class bug, not a recoverable condition.
	if ev.Filter != unix.EVFILT_VNODE {
		panic(fmt.Sprintf("watcher: unexpected kevent filter %d for ident %d", ev.Filter, ev.Ident))
	}
	if ev.Fflags&unix.NOTE_WRITE == 0 {
		panic(fmt.Sprintf("watcher: unexpected vnode fflags %#x for ident %d", ev.Fflags, ev.Ident))
	}

	return []Event{{Desc: Descriptor(ev.Ident)}}, nil
}

func (w *kqueueWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	_, writeErr := unix.Write(w.pipeW, []byte{0})

	var firstErr error
	for _, f := range w.owned {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := unix.Close(w.kq); err != nil && firstErr == nil {
		firstErr = err
	}
	_ = unix.Close(w.pipeR)
	_ = unix.Close(w.pipeW)

	if firstErr != nil {
		return fmt.Errorf("watcher: close: %w", firstErr)
	}
	if writeErr != nil {
		return fmt.Errorf("watcher: wake pipe: %w", writeErr)
	}
	return nil
}
