package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"treemirror/internal/logging"
)

const (
	defaultQueueSize    = 256
	defaultMaxWatches   = 8192
	defaultRenameWindow = 50 * time.Millisecond
	maxRestartAttempts  = 3
	restartBaseDelay    = 200 * time.Millisecond
	retiredRenameTTL    = time.Second
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrClosed             = errors.New("watcher is closed")
)

// New watches root and every directory below it.
func New(root string, options Options) (*Watcher, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("root is not a directory")
	}

	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}
	renameWindow := options.RenameWindow
	if renameWindow <= 0 {
		renameWindow = defaultRenameWindow
	}
	skip := options.Skip
	if skip == nil {
		skip = isHidden
	}

	instance := &Watcher{
		root:         root,
		watcher:      source,
		watched:      make(map[string]struct{}),
		retired:      make(map[string]time.Time),
		maxWatches:   maxWatches,
		skip:         skip,
		renameWindow: renameWindow,
		raw:          make(chan fsnotify.Event, queueSize),
		errors:       make(chan error, 4),
		resync:       make(chan struct{}, 1),
		out:          make(chan Event, queueSize),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		errorHandler: options.ErrorHandler,
		logger:       logger.WithCategory("watcher"),
		metrics:      options.Metrics,
	}

	if err := instance.addTree(root); err != nil {
		_ = source.Close()
		return nil, err
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

// Root returns the watched directory.
func (watcher *Watcher) Root() string {
	return watcher.root
}

// Events returns the ordered event stream. It is closed after Close.
func (watcher *Watcher) Events() <-chan Event {
	return watcher.out
}

// Close stops event delivery and releases the native watcher. Events already
// handed to the consumer are unaffected.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		<-watcher.exited
		return nil
	}
	watcher.closed = true
	source := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	<-watcher.exited
	if source == nil {
		return nil
	}
	return source.Close()
}

func (watcher *Watcher) run() {
	defer close(watcher.exited)
	defer close(watcher.out)

	for {
		var expired <-chan time.Time
		if watcher.pending != nil {
			expired = watcher.pendingTimer.C
		}

		select {
		case event := <-watcher.raw:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.resync:
			watcher.flushPending()
			watcher.emit(Event{Kind: Resync, Path: watcher.root})
		case <-expired:
			watcher.flushPending()
		case <-watcher.done:
			watcher.clearPending()
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.raw <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	// A moved directory is reported by its parent and again by its own watch.
	if event.Has(fsnotify.Rename) {
		if watcher.pending != nil && watcher.pending.Path == path {
			return
		}
		if watcher.isRetired(path) {
			return
		}
	}

	if watcher.pending != nil {
		if event.Has(fsnotify.Create) && path != watcher.pending.Path && filepath.Dir(path) == filepath.Dir(watcher.pending.Path) {
			oldPath := watcher.pending.Path
			watcher.clearPending()
			watcher.retire(oldPath)
			watcher.rewatch(oldPath, path)
			watcher.emit(Event{Kind: Renamed, Path: oldPath, NewPath: path})
			return
		}
		watcher.flushPending()
	}

	switch {
	case event.Has(fsnotify.Create):
		delete(watcher.retired, path)
		if info, err := os.Lstat(path); err == nil && info.IsDir() && !watcher.skip(path) {
			if err := watcher.addTree(path); err != nil {
				watcher.logWarn("watch add failed", map[string]string{
					logging.FieldPath:  path,
					logging.FieldError: err.Error(),
				})
			}
		}
		watcher.emit(Event{Kind: Created, Path: path})
	case event.Has(fsnotify.Remove):
		watcher.removeTree(path)
		watcher.emit(Event{Kind: Deleted, Path: path})
	case event.Has(fsnotify.Rename):
		watcher.pending = &Event{Kind: Deleted, Path: path, Timestamp: time.Now().UTC()}
		watcher.pendingTimer = time.NewTimer(watcher.renameWindow)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		watcher.emit(Event{Kind: Modified, Path: path})
	}
}

// retire records an old path whose rename was already reported. The run
// goroutine owns retired.
func (watcher *Watcher) retire(path string) {
	now := time.Now()
	for retiredPath, at := range watcher.retired {
		if now.Sub(at) > retiredRenameTTL {
			delete(watcher.retired, retiredPath)
		}
	}
	watcher.retired[path] = now
}

func (watcher *Watcher) isRetired(path string) bool {
	at, ok := watcher.retired[path]
	if !ok {
		return false
	}
	if time.Since(at) > retiredRenameTTL {
		delete(watcher.retired, path)
		return false
	}
	return true
}

// flushPending reports an unpaired rename as a deletion.
func (watcher *Watcher) flushPending() {
	if watcher.pending == nil {
		return
	}
	pending := *watcher.pending
	watcher.clearPending()
	watcher.retire(pending.Path)
	watcher.removeTree(pending.Path)
	watcher.emit(pending)
}

func (watcher *Watcher) clearPending() {
	if watcher.pendingTimer != nil {
		watcher.pendingTimer.Stop()
	}
	watcher.pending = nil
	watcher.pendingTimer = nil
}

func (watcher *Watcher) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case watcher.out <- event:
		watcher.eventsDelivered.Add(1)
		watcher.metrics.IncWatchEvent(string(event.Kind))
	case <-watcher.done:
	}
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	watcher.logger.Debug(message, map[string]string{
		logging.FieldPath: path,
		"active_watches":  strconv.Itoa(activeCount),
	})
}

// SetErrorHandler configures a callback for unrecoverable watcher failures.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.restartMutex.Lock()
	watcher.errorHandler = handler
	watcher.restartMutex.Unlock()
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := len(watcher.watched)
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: watcher.eventsDelivered.Load(),
		Errors:          watcher.errorCount.Load(),
		RestartAttempts: restartAttempts,
	}
}

func isHidden(path string) bool {
	name := filepath.Base(path)
	return len(name) > 1 && name[0] == '.'
}
