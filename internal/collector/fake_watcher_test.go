package collector_test

import (
	"sync"

	"github.com/tripwire/logcollector/internal/watcher"
)

// fakeWatcher is a deterministic, test-only watcher.Watcher. Tests drive it
// by calling push to enqueue exactly the event batches that Collector should
// see on its next call to ReadEventsBlocking.
type fakeWatcher struct {
	mu       sync.Mutex
	nextDesc watcher.Descriptor
	descOf   map[string]watcher.Descriptor

	events chan []watcher.Event
	closed bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		descOf: make(map[string]watcher.Descriptor),
		events: make(chan []watcher.Event, 64),
	}
}

func (f *fakeWatcher) WatchDirectory(path string) (watcher.Descriptor, error) {
	return f.assign(path), nil
}

func (f *fakeWatcher) WatchFile(path string) (watcher.Descriptor, error) {
	return f.assign(path), nil
}

func (f *fakeWatcher) assign(path string) watcher.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextDesc++
	d := f.nextDesc
	f.descOf[path] = d
	return d
}

// descFor returns the descriptor previously assigned to path. It panics if
// path was never registered, which signals a broken test rather than a
// broken collector.
func (f *fakeWatcher) descFor(path string) watcher.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descOf[path]
	if !ok {
		panic("fakeWatcher: no descriptor assigned for " + path)
	}
	return d
}

// push enqueues one batch of events to be returned by the next
// ReadEventsBlocking call.
func (f *fakeWatcher) push(events []watcher.Event) {
	f.events <- events
}

// pushFor is a convenience wrapper around push for a single-descriptor
// batch keyed by path.
func (f *fakeWatcher) pushFor(path string) {
	f.push([]watcher.Event{{Desc: f.descFor(path)}})
}

func (f *fakeWatcher) ReadEventsBlocking() ([]watcher.Event, error) {
	events, ok := <-f.events
	if !ok {
		return nil, watcher.ErrClosed
	}
	return events, nil
}

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}
