package mirror

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"treemirror/internal/event"
	"treemirror/internal/filter"
	"treemirror/internal/logging"
	"treemirror/internal/metrics"
)

const defaultReadRetryDelay = 5 * time.Millisecond

// Options configures a tree. The zero value mirrors the host filesystem
// without logging, metrics or a bus.
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Bus receives one Change per lifecycle transition anywhere in the tree.
	Bus *event.Bus[Change]
	FS  FileSystem
	// RebaseOnRename rewrites the cached paths of a renamed directory's
	// descendants. Off by default: only the renamed node's own path changes.
	RebaseOnRename bool
	ReadRetryDelay time.Duration
	// Rules and InheritedValues seed the root before the first import, so
	// entries the rules exclude are never walked or published.
	Rules           filter.Rules
	InheritedValues map[string]any
}

// tree holds what every node of one root shares.
type tree struct {
	rootPath       string
	fs             FileSystem
	logger         *logging.Logger
	metrics        *metrics.Registry
	bus            *event.Bus[Change]
	rebaseOnRename bool
	readRetryDelay time.Duration
}

// Node mirrors one filesystem entry that exists and passes the active filter.
type Node struct {
	tree   *tree
	parent *Node
	isDir  bool

	mu        sync.Mutex
	path      string
	name      string
	modTime   time.Time
	size      int64
	children  map[string]*Node
	listing   []string
	rules     filter.Rules
	values    map[string]any
	inherited map[string]any
	destroyed bool

	listeners registry
}

// NewRoot mirrors path and everything below it that qualifies. It fails with
// ErrNotFound when path does not exist.
func NewRoot(path string, options Options) (*Node, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, &IOError{Op: "abs", Path: path, Err: err}
	}
	fileSystem := options.FS
	if fileSystem == nil {
		fileSystem = OS()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	retryDelay := options.ReadRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultReadRetryDelay
	}
	shared := &tree{
		rootPath:       absolute,
		fs:             fileSystem,
		logger:         logger.WithCategory("mirror").With(map[string]string{logging.FieldRoot: absolute}),
		metrics:        options.Metrics,
		bus:            options.Bus,
		rebaseOnRename: options.RebaseOnRename,
		readRetryDelay: retryDelay,
	}

	info, err := fileSystem.Stat(absolute)
	if err != nil {
		return nil, classify("stat", absolute, err)
	}
	root := shared.newNode(nil, absolute, info.IsDir(), info.ModTime(), info.Size())
	root.rules = options.Rules
	for key, value := range options.InheritedValues {
		root.inherited[key] = value
	}

	b := &batch{}
	if root.isDir {
		root.mu.Lock()
		err = root.reconcileLocked(b, reconcilePass{trigger: "import", recursive: true})
		root.mu.Unlock()
	}
	shared.dispatch(b)
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (t *tree) newNode(parent *Node, path string, isDir bool, modTime time.Time, size int64) *Node {
	node := &Node{
		tree:      t,
		parent:    parent,
		isDir:     isDir,
		path:      path,
		name:      filepath.Base(path),
		modTime:   modTime,
		size:      size,
		values:    make(map[string]any),
		inherited: make(map[string]any),
	}
	if isDir {
		node.children = make(map[string]*Node)
	}
	// The caller holds the parent's lock.
	if parent != nil {
		node.rules = parent.rules
		for key, value := range parent.inherited {
			node.inherited[key] = value
		}
	}
	t.metrics.NodeCreated(t.rootPath)
	return node
}

// Path returns the absolute path last recorded for the node.
func (n *Node) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Name returns the final path segment.
func (n *Node) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name
}

func (n *Node) IsDir() bool {
	return n.isDir
}

func (n *Node) ModTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.modTime
}

func (n *Node) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

// Parent returns nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Root() *Node {
	node := n
	for node.parent != nil {
		node = node.parent
	}
	return node
}

// RootPath returns the absolute path of the tree root.
func (n *Node) RootPath() string {
	return n.tree.rootPath
}

// RelativePath returns the node path relative to the tree root; "." for the root.
func (n *Node) RelativePath() string {
	return n.tree.relative(n.Path())
}

func (n *Node) Destroyed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroyed
}

// Rules returns the filter rules the node applies to its children.
func (n *Node) Rules() filter.Rules {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rules
}

// Children returns the current children, directories first, then by name.
// The slice is a copy and may be stale as soon as it is returned.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	children := make([]*Node, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, child)
	}
	// Child names only change under this lock.
	sort.Slice(children, func(i, j int) bool {
		if children[i].isDir != children[j].isDir {
			return children[i].isDir
		}
		return children[i].name < children[j].name
	})
	return children
}

// Listing returns the raw entry names seen on disk during the last
// reconciliation, including entries that did not pass the filter.
func (n *Node) Listing() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	listing := make([]string, len(n.listing))
	copy(listing, n.listing)
	return listing
}

// SetFilters replaces the node's filter rules. With cascade the rules are
// pushed to every existing descendant directory and the subtree is reconciled
// against them; without it they apply from the next reconciliation on.
func (n *Node) SetFilters(allow, deny, ignore []string, cascade bool) error {
	rules := filter.NewRules(allow, deny, ignore)
	b := &batch{}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNotFound
	}
	n.rules = rules
	var err error
	if cascade && n.isDir {
		err = n.reconcileLocked(b, reconcilePass{trigger: "filters", recursive: true, rules: &rules})
	}
	n.mu.Unlock()

	n.tree.dispatch(b)
	if errors.Is(err, ErrNotFound) {
		n.discard()
	}
	return err
}

// Refresh reconciles the subtree against disk. A node whose path vanished is
// removed from the tree and ErrNotFound is returned.
func (n *Node) Refresh() error {
	return n.refresh("refresh")
}

func (n *Node) refresh(trigger string) error {
	b := &batch{}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrNotFound
	}
	var err error
	if n.isDir {
		err = n.reconcileLocked(b, reconcilePass{trigger: trigger, recursive: true})
	} else {
		err = n.statLocked()
	}
	n.mu.Unlock()

	n.tree.dispatch(b)
	if errors.Is(err, ErrNotFound) {
		n.discard()
	}
	return err
}

func (n *Node) statLocked() error {
	info, err := n.tree.fs.Lstat(n.path)
	if err != nil {
		return classify("lstat", n.path, err)
	}
	n.modTime = info.ModTime()
	n.size = info.Size()
	return nil
}

// discard removes the node and its subtree after its path vanished.
func (n *Node) discard() {
	b := &batch{}
	parent := n.parent
	if parent == nil {
		n.mu.Lock()
		if !n.destroyed {
			n.destroyLocked(b)
		}
		n.mu.Unlock()
		n.tree.dispatch(b)
		return
	}

	parent.mu.Lock()
	n.mu.Lock()
	if !n.destroyed && parent.children[n.name] == n {
		name := n.name
		n.destroyLocked(b)
		delete(parent.children, name)
		parent.listing = removeName(parent.listing, name)
	}
	n.mu.Unlock()
	parent.mu.Unlock()
	n.tree.dispatch(b)
}

// destroyLocked tears the subtree down bottom-up. The caller holds n.mu and,
// for a non-root node, the parent's lock, and detaches n afterwards.
func (n *Node) destroyLocked(b *batch) {
	for _, name := range sortedKeys(n.children) {
		child := n.children[name]
		child.mu.Lock()
		child.destroyLocked(b)
		child.mu.Unlock()
	}
	n.children = nil
	n.listing = nil
	n.destroyed = true
	b.deleted(n)
	n.tree.metrics.NodeDestroyed(n.tree.rootPath)
}

func (t *tree) relative(path string) string {
	relative, err := filepath.Rel(t.rootPath, path)
	if err != nil {
		return path
	}
	return relative
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sortedKeys(children map[string]*Node) []string {
	keys := make([]string, 0, len(children))
	for key := range children {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func removeName(listing []string, name string) []string {
	for index, entry := range listing {
		if entry == name {
			return append(listing[:index:index], listing[index+1:]...)
		}
	}
	return listing
}
