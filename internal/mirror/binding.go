package mirror

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"treemirror/internal/logging"
	"treemirror/internal/metrics"
	"treemirror/internal/watcher"
)

// BindingOptions tunes the native watch behind a Binding. Zero values use the
// tree's logger and metrics and the watcher defaults.
type BindingOptions struct {
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	QueueSize    int
	MaxWatches   int
	RenameWindow time.Duration
}

// Binding applies native change notifications for one root to its tree.
// Events are applied one at a time in delivery order on a single goroutine.
type Binding struct {
	id      string
	root    *Node
	watcher *watcher.Watcher
	logger  *logging.Logger
	metrics *metrics.Registry

	stopOnce sync.Once
	done     chan struct{}
}

// Watch starts a recursive watch on root, which must be a tree root directory.
func Watch(root *Node, options BindingOptions) (*Binding, error) {
	if root == nil || root.parent != nil {
		return nil, errors.New("watch requires a root node")
	}
	if !root.isDir {
		return nil, ErrNotAFile
	}
	if root.Destroyed() {
		return nil, ErrNotFound
	}
	logger := options.Logger
	if logger == nil {
		logger = root.tree.logger
	}
	registry := options.Metrics
	if registry == nil {
		registry = root.tree.metrics
	}

	source, err := watcher.New(root.tree.rootPath, watcher.Options{
		Logger:       logger,
		Metrics:      registry,
		QueueSize:    options.QueueSize,
		MaxWatches:   options.MaxWatches,
		RenameWindow: options.RenameWindow,
	})
	if err != nil {
		return nil, classify("watch", root.tree.rootPath, err)
	}

	id := uuid.NewString()
	binding := &Binding{
		id:      id,
		root:    root,
		watcher: source,
		logger:  logger.With(map[string]string{"binding": id}),
		metrics: registry,
		done:    make(chan struct{}),
	}
	source.SetErrorHandler(binding.onWatchFailure)
	go binding.run()
	return binding, nil
}

func (b *Binding) ID() string {
	return b.id
}

func (b *Binding) Root() *Node {
	return b.root
}

// Done is closed once the binding stopped delivering events.
func (b *Binding) Done() <-chan struct{} {
	return b.done
}

// Stop releases the native watch and waits for the event being applied to
// finish. It must not be called from a listener callback.
func (b *Binding) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		err = b.watcher.Close()
	})
	<-b.done
	return err
}

func (b *Binding) run() {
	defer close(b.done)
	for event := range b.watcher.Events() {
		b.apply(event)
		if b.root.Destroyed() {
			b.logger.Info("watched root removed", map[string]string{
				logging.FieldPath: b.root.tree.rootPath,
			})
			b.stopOnce.Do(func() {
				_ = b.watcher.Close()
			})
		}
	}
}

func (b *Binding) apply(event watcher.Event) {
	var err error
	switch event.Kind {
	case watcher.Created:
		err = b.onCreated(event.Path)
	case watcher.Deleted:
		err = b.onDeleted(event.Path)
	case watcher.Modified:
		err = b.onModified(event.Path)
	case watcher.Renamed:
		err = b.onRenamed(event.Path, event.NewPath)
	case watcher.Resync:
		err = b.root.refresh("resync")
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrResolutionMiss) {
		b.metrics.IncResolutionMiss(string(event.Kind))
		b.logger.Debug("event dropped", map[string]string{
			logging.FieldPath: event.Path,
			"kind":            string(event.Kind),
		})
		return
	}
	if errors.Is(err, ErrNotFound) {
		return
	}
	b.logger.Warn("event apply failed", map[string]string{
		logging.FieldPath:  event.Path,
		"kind":             string(event.Kind),
		logging.FieldError: err.Error(),
	})
}

// resolve maps an absolute event path to its mirrored node.
func (b *Binding) resolve(path string) (*Node, error) {
	node, ok := b.root.Lookup(path)
	if !ok {
		return nil, ErrResolutionMiss
	}
	return node, nil
}

func (b *Binding) onCreated(path string) error {
	parent, err := b.resolve(filepath.Dir(path))
	if err != nil {
		return err
	}
	parent.settlePath(filepath.Dir(path))
	return parent.importEntry(filepath.Base(path))
}

func (b *Binding) onDeleted(path string) error {
	node, err := b.resolve(path)
	if err != nil {
		return err
	}
	node.settlePath(path)
	node.discard()
	return nil
}

func (b *Binding) onModified(path string) error {
	node, err := b.resolve(path)
	if err != nil {
		return err
	}
	node.settlePath(path)
	return node.touch()
}

func (b *Binding) onRenamed(oldPath, newPath string) error {
	node, err := b.resolve(oldPath)
	if errors.Is(err, ErrResolutionMiss) {
		// The old name was never mirrored; the new one may qualify.
		return b.onCreated(newPath)
	}
	if err != nil {
		return err
	}
	node.settlePath(oldPath)
	return node.rename(newPath)
}

// onWatchFailure runs when the native watcher could not be restarted. The
// tree is reconciled once so it reflects disk at the moment watching stopped.
func (b *Binding) onWatchFailure(err error) {
	b.logger.Error("native watch failed", map[string]string{
		logging.FieldError: err.Error(),
	})
	go func() {
		_ = b.root.refresh("resync")
		b.stopOnce.Do(func() {
			_ = b.watcher.Close()
		})
	}()
}
