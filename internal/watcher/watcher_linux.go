// Package watcher: Linux back-end built on inotify.
//
//go:build linux

package watcher

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	platformFactory = newInotifyWatcher
}

// inotifyEventHeaderSize is the fixed-width portion of a raw inotify_event;
// the variable-length name field (of length InotifyEvent.Len) follows it
// immediately in the kernel-provided buffer. We never consume the name: the
// Watcher contract is name-free, so it is skipped and discarded.
const inotifyEventHeaderSize = int(unsafe.Sizeof(unix.InotifyEvent{}))

// dirWatchMask registers for "entry created in or moved into directory"
// only: event kind
// and basename are discarded downstream regardless, so only the minimal
// mask needed to wake the rescan path is requested.
const dirWatchMask = unix.IN_CREATE | unix.IN_MOVED_TO

// fileWatchMask registers for "file modified", again minimally: both
// IN_MODIFY and IN_CLOSE_WRITE are included so that buffered writers that
// only flush on close are still observed promptly.
const fileWatchMask = unix.IN_MODIFY | unix.IN_CLOSE_WRITE

// inotifyWatcher is the Linux inotify-backed implementation of Watcher.
// Descriptors are watch descriptors returned by inotify_add_watch, widened
// to the package's Descriptor type. The kernel owns watch state internally
// — unlike the Darwin back-end, no file descriptor needs to be held open
// for the lifetime of a watch.
type inotifyWatcher struct {
	fd int // inotify instance fd

	// pipeR/pipeW form a self-pipe used to unblock a pending poll(2) call
	// from Close, since inotify offers no native cancellation primitive.
	pipeR int
	pipeW int

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func newInotifyWatcher() (Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("watcher: inotify_init1: %w", err)
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("watcher: self-pipe: %w", err)
	}

	return &inotifyWatcher{fd: fd, pipeR: fds[0], pipeW: fds[1]}, nil
}

func (w *inotifyWatcher) WatchDirectory(path string) (Descriptor, error) {
	return w.addWatch(path, dirWatchMask)
}

func (w *inotifyWatcher) WatchFile(path string) (Descriptor, error) {
	return w.addWatch(path, fileWatchMask)
}

func (w *inotifyWatcher) addWatch(path string, mask uint32) (Descriptor, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, mask)
	if err != nil {
		return 0, fmt.Errorf("watcher: inotify_add_watch %q: %w", path, err)
	}
	return Descriptor(wd), nil
}

func (w *inotifyWatcher) ReadEventsBlocking() ([]Event, error) {
	pfds := []unix.PollFd{
		{Fd: int32(w.fd), Events: unix.POLLIN},
		{Fd: int32(w.pipeR), Events: unix.POLLIN},
	}

	for {
		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("watcher: poll: %w", err)
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			return nil, ErrClosed
		}
		if pfds[0].Revents&unix.POLLIN == 0 {
			// Spurious wake-up; caller tolerates an empty batch.
			return nil, nil
		}
		break
	}

	// 64 events' worth of header + max filename is a generous single read;
	// the kernel never returns a partial event within what it delivers.
	buf := make([]byte, 64*(inotifyEventHeaderSize+unix.NAME_MAX+1))
	n, err := unix.Read(w.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("watcher: read: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	return parseInotifyEvents(buf[:n]), nil
}

// parseInotifyEvents decodes a buffer of consecutive raw inotify_event
// records into Events, discarding everything but the watch descriptor: no
// mask, no cookie, no name survives past this function, per the package's
// name-free, mask-free contract.
func parseInotifyEvents(buf []byte) []Event {
	var events []Event
	for offset := 0; offset+inotifyEventHeaderSize <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += inotifyEventHeaderSize

		if raw.Len > 0 {
			end := offset + int(raw.Len)
			if end > len(buf) {
				break
			}
			offset = end
		}

		if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
			continue
		}

		events = append(events, Event{Desc: Descriptor(raw.Wd)})
	}
	return events
}

func (w *inotifyWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	// Wake any pending ReadEventsBlocking call.
	_, writeErr := unix.Write(w.pipeW, []byte{0})

	closeErr := unix.Close(w.fd)
	_ = unix.Close(w.pipeR)
	_ = unix.Close(w.pipeW)

	if writeErr != nil {
		w.closeErr = fmt.Errorf("watcher: wake pipe: %w", writeErr)
	} else if closeErr != nil {
		w.closeErr = fmt.Errorf("watcher: close inotify fd: %w", closeErr)
	}
	return w.closeErr
}
