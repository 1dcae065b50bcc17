package mirror

import "time"

type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeModified ChangeKind = "modified"
	ChangeRenamed  ChangeKind = "renamed"
)

// Change is the tree-wide record of one lifecycle transition, published on
// the tree's bus. Paths are relative to Root.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Root       string     `json:"root"`
	Path       string     `json:"path"`
	OldPath    string     `json:"old_path,omitempty"`
	Dir        bool       `json:"dir"`
	ModTime    time.Time  `json:"mod_time"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func (c Change) Type() string {
	return string(c.Kind)
}

func (c Change) Timestamp() time.Time {
	return c.OccurredAt
}

type notification struct {
	change Change
	node   *Node
	// parent is set for creations, whose listeners live on the parent.
	parent *Node
}

// batch collects notifications while node locks are held; dispatch delivers
// them once every lock is released.
type batch struct {
	items []notification
}

func (b *batch) add(kind ChangeKind, node, parent *Node, path, oldPath string) {
	b.items = append(b.items, notification{
		change: Change{
			Kind:       kind,
			Root:       node.tree.rootPath,
			Path:       path,
			OldPath:    oldPath,
			Dir:        node.isDir,
			ModTime:    node.modTime,
			OccurredAt: time.Now().UTC(),
		},
		node:   node,
		parent: parent,
	})
}

// created is recorded with the parent locked; the child is not yet shared.
func (b *batch) created(parent, child *Node) {
	b.add(ChangeCreated, child, parent, child.tree.relative(child.path), "")
}

// The remaining recorders expect node.mu to be held.
func (b *batch) deleted(node *Node) {
	b.add(ChangeDeleted, node, nil, node.tree.relative(node.path), "")
}

func (b *batch) modified(node *Node) {
	b.add(ChangeModified, node, nil, node.tree.relative(node.path), "")
}

func (b *batch) renamed(node *Node, oldPath string) {
	b.add(ChangeRenamed, node, nil, node.tree.relative(node.path), node.tree.relative(oldPath))
}

func (t *tree) dispatch(b *batch) {
	if b == nil {
		return
	}
	for _, item := range b.items {
		change := item.change
		switch change.Kind {
		case ChangeCreated:
			item.parent.listeners.each(func(listener Listener) {
				listener.OnCreate(item.parent, item.node, change.Root, change.Path)
			})
		case ChangeDeleted:
			item.node.listeners.each(func(listener Listener) {
				listener.OnDelete(item.node, change.Root, change.Path)
			})
			item.node.listeners.clear()
		case ChangeModified:
			item.node.listeners.each(func(listener Listener) {
				listener.OnModify(item.node, change.Root, change.Path)
			})
		case ChangeRenamed:
			item.node.listeners.each(func(listener Listener) {
				listener.OnRename(item.node, change.Root, change.OldPath, change.Path)
			})
		}
		t.bus.Publish(change)
	}
}
