// Package workspace owns the set of mirrored roots a process serves.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"treemirror/internal/config"
	"treemirror/internal/event"
	"treemirror/internal/filter"
	"treemirror/internal/logging"
	"treemirror/internal/metrics"
	"treemirror/internal/mirror"
)

var (
	ErrUnknownRoot = errors.New("unknown root")
	ErrDuplicate   = errors.New("root already open")
	ErrClosed      = errors.New("workspace is closed")
)

type Options struct {
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	EventHistory   int
	RebaseOnRename bool
}

// Root is one opened directory with its tree and optional binding.
type Root struct {
	ID      string
	Name    string
	Node    *mirror.Node
	binding *mirror.Binding
}

// Watching reports whether the root follows disk changes.
func (r *Root) Watching() bool {
	if r.binding == nil {
		return false
	}
	select {
	case <-r.binding.Done():
		return false
	default:
		return true
	}
}

// Info is the serializable description of a root.
type Info struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Watching bool     `json:"watching"`
	Allow    []string `json:"allow"`
	Deny     []string `json:"deny"`
	Ignore   []string `json:"ignore"`
}

func (r *Root) Info() Info {
	rules := r.Node.Rules()
	return Info{
		ID:       r.ID,
		Name:     r.Name,
		Path:     r.Node.RootPath(),
		Watching: r.Watching(),
		Allow:    rules.Allow(),
		Deny:     rules.Deny(),
		Ignore:   rules.Ignore(),
	}
}

type Workspace struct {
	mu      sync.Mutex
	roots   map[string]*Root
	opening map[string]struct{}
	closed  bool
	bus     *event.Bus[mirror.Change]
	cancel  context.CancelFunc
	options Options
	logger  *logging.Logger
}

func New(options Options) *Workspace {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		roots:   make(map[string]*Root),
		opening: make(map[string]struct{}),
		bus: event.NewBus[mirror.Change](ctx, event.BusOptions{
			Name:        "changes",
			HistorySize: options.EventHistory,
			Registry:    options.Metrics,
			Logger:      logger,
		}),
		cancel:  cancel,
		options: options,
		logger:  logger.WithCategory("workspace"),
	}
}

// FromConfig opens every configured root. Roots already opened are closed
// again if a later one fails.
func FromConfig(cfg config.Config, logger *logging.Logger, registry *metrics.Registry) (*Workspace, error) {
	ws := New(Options{
		Logger:         logger,
		Metrics:        registry,
		EventHistory:   cfg.Server.EventHistory,
		RebaseOnRename: cfg.Server.RebaseOnRename,
	})
	for _, rootConfig := range cfg.Roots {
		if _, err := ws.Open(rootConfig); err != nil {
			ws.Close()
			return nil, err
		}
	}
	return ws, nil
}

// Bus carries every change of every root.
func (w *Workspace) Bus() *event.Bus[mirror.Change] {
	return w.bus
}

// Open mirrors the configured directory with its filters and inherited
// values in place from the first import, and starts watching it unless
// disabled.
func (w *Workspace) Open(rootConfig config.RootConfig) (*Root, error) {
	path, err := filepath.Abs(rootConfig.Path)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	_, busy := w.opening[path]
	for _, existing := range w.roots {
		busy = busy || existing.Node.RootPath() == path
	}
	if busy {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, path)
	}
	// The path stays reserved until the root is registered or opening fails.
	w.opening[path] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.opening, path)
		w.mu.Unlock()
	}()

	rootConfig.Path = path
	values := make(map[string]any, len(rootConfig.Values))
	for key, value := range rootConfig.Values {
		values[key] = value
	}
	node, err := mirror.NewRoot(path, mirror.Options{
		Logger:          w.options.Logger,
		Metrics:         w.options.Metrics,
		Bus:             w.bus,
		RebaseOnRename:  w.options.RebaseOnRename,
		Rules:           filter.NewRules(rootConfig.Allow, rootConfig.Deny, rootConfig.IgnorePaths()),
		InheritedValues: values,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	name := rootConfig.Name
	if name == "" {
		name = filepath.Base(path)
	}
	root := &Root{ID: uuid.NewString(), Name: name, Node: node}
	if rootConfig.Watching() && node.IsDir() {
		binding, err := mirror.Watch(node, mirror.BindingOptions{})
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
		root.binding = binding
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		root.stop()
		return nil, ErrClosed
	}
	w.roots[root.ID] = root
	w.mu.Unlock()

	w.logger.Info("root opened", map[string]string{
		logging.FieldRoot: path,
		"id":              root.ID,
		"watching":        fmt.Sprint(root.binding != nil),
	})
	return root, nil
}

func (w *Workspace) Root(id string) (*Root, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	root, ok := w.roots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, id)
	}
	return root, nil
}

// Roots returns the open roots ordered by path.
func (w *Workspace) Roots() []*Root {
	w.mu.Lock()
	roots := make([]*Root, 0, len(w.roots))
	for _, root := range w.roots {
		roots = append(roots, root)
	}
	w.mu.Unlock()
	sort.Slice(roots, func(i, j int) bool {
		return roots[i].Node.RootPath() < roots[j].Node.RootPath()
	})
	return roots
}

// SetFilters replaces a root's filters. Relative ignore paths resolve
// against the root directory.
func (w *Workspace) SetFilters(id string, allow, deny, ignore []string, cascade bool) error {
	root, err := w.Root(id)
	if err != nil {
		return err
	}
	resolved := config.RootConfig{Path: root.Node.RootPath(), Ignore: ignore}.IgnorePaths()
	return root.Node.SetFilters(allow, deny, resolved, cascade)
}

func (w *Workspace) Refresh(id string) error {
	root, err := w.Root(id)
	if err != nil {
		return err
	}
	return root.Node.Refresh()
}

// Remove stops watching a root and forgets it.
func (w *Workspace) Remove(id string) error {
	w.mu.Lock()
	root, ok := w.roots[id]
	delete(w.roots, id)
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoot, id)
	}
	root.stop()
	return nil
}

// Close stops every binding and closes the change bus.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	roots := w.roots
	w.roots = make(map[string]*Root)
	w.mu.Unlock()

	for _, root := range roots {
		root.stop()
	}
	w.cancel()
	w.bus.Close()
}

func (r *Root) stop() {
	if r.binding != nil {
		_ = r.binding.Stop()
	}
}

// RootForPath finds the open root whose tree is rooted at path.
func (w *Workspace) RootForPath(path string) (*Root, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root.Node.RootPath() == path {
			return root, true
		}
	}
	return nil, false
}
