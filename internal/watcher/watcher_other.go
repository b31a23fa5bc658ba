// Package watcher: fallback for platforms with neither inotify nor kqueue.
//
//go:build !linux && !darwin

package watcher

func init() {
	platformFactory = newStubWatcher
}

// stubWatcher satisfies the Watcher interface so the package builds and
// links on every platform, but registers nothing and never delivers an
// event. Every watch and read operation reports ErrUnsupportedPlatform so
// callers fail fast instead of blocking forever on a queue that can never
// wake; Close is a no-op.
type stubWatcher struct{}

func newStubWatcher() (Watcher, error) {
	return stubWatcher{}, nil
}

func (stubWatcher) WatchDirectory(_ string) (Descriptor, error) {
	return 0, ErrUnsupportedPlatform
}

func (stubWatcher) WatchFile(_ string) (Descriptor, error) {
	return 0, ErrUnsupportedPlatform
}

func (stubWatcher) ReadEventsBlocking() ([]Event, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubWatcher) Close() error {
	return nil
}
