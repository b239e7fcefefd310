package ui

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher coalesces filesystem changes under the data directories into
// refresh ticks for the dashboard.
type Watcher struct {
	fs     *fsnotify.Watcher
	events chan struct{}
}

// NewWatcher watches the given directories. Directories that do not
// exist yet are skipped.
func NewWatcher(dirs ...string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}

	w := &Watcher{fs: fsWatcher, events: make(chan struct{}, 1)}
	go w.loop()
	return w, nil
}

// loop debounces bursts of writes into single refresh ticks.
func (w *Watcher) loop() {
	var timer *time.Timer
	defer close(w.events)
	for {
		select {
		case _, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case w.events <- struct{}{}:
				default:
				}
			})
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

// Events delivers one tick per settled burst of changes.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Close stops watching.
func (w *Watcher) Close() error { return w.fs.Close() }
