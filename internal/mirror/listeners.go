package mirror

import (
	"sort"
	"sync"
)

// Listener observes lifecycle events on one node. rootPath is the absolute
// tree root and names are relative to it. OnCreate fires on the parent.
//
// Callbacks run on the goroutine that applied the change, after every node
// lock is released. They should return quickly, and must not synchronously
// cause another event on the node they were registered on.
type Listener interface {
	OnCreate(parent, child *Node, rootPath, name string)
	OnDelete(node *Node, rootPath, name string)
	OnModify(node *Node, rootPath, name string)
	OnRename(node *Node, rootPath, oldName, newName string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Create func(parent, child *Node, rootPath, name string)
	Delete func(node *Node, rootPath, name string)
	Modify func(node *Node, rootPath, name string)
	Rename func(node *Node, rootPath, oldName, newName string)
}

func (f ListenerFuncs) OnCreate(parent, child *Node, rootPath, name string) {
	if f.Create != nil {
		f.Create(parent, child, rootPath, name)
	}
}

func (f ListenerFuncs) OnDelete(node *Node, rootPath, name string) {
	if f.Delete != nil {
		f.Delete(node, rootPath, name)
	}
}

func (f ListenerFuncs) OnModify(node *Node, rootPath, name string) {
	if f.Modify != nil {
		f.Modify(node, rootPath, name)
	}
}

func (f ListenerFuncs) OnRename(node *Node, rootPath, oldName, newName string) {
	if f.Rename != nil {
		f.Rename(node, rootPath, oldName, newName)
	}
}

// registry is a node's listener set. It has its own lock so registration
// never contends with structural changes, and dispatchMu serializes delivery.
type registry struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex
	nextID     uint64
	entries    map[uint64]Listener
}

// Registration removes a listener when closed.
type Registration struct {
	registry *registry
	id       uint64
	once     sync.Once
}

func (r *Registration) Close() {
	if r == nil || r.registry == nil {
		return
	}
	r.once.Do(func() {
		r.registry.remove(r.id)
	})
}

// AddListener registers listener for events on n.
func (n *Node) AddListener(listener Listener) *Registration {
	if listener == nil {
		return &Registration{}
	}
	return &Registration{registry: &n.listeners, id: n.listeners.add(listener)}
}

// ListenerCount reports the listeners currently registered on n.
func (n *Node) ListenerCount() int {
	n.listeners.mu.Lock()
	defer n.listeners.mu.Unlock()
	return len(n.listeners.entries)
}

func (r *registry) add(listener Listener) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[uint64]Listener)
	}
	r.nextID++
	r.entries[r.nextID] = listener
	return r.nextID
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *registry) clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// each calls fn for every listener in registration order.
func (r *registry) each(fn func(Listener)) {
	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, r.entries[id])
	}
	r.mu.Unlock()

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, listener := range listeners {
		fn(listener)
	}
}
