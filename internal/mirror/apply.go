package mirror

import (
	"errors"
	"path/filepath"
	"strings"

	"treemirror/internal/filter"
)

// settlePath records the path a watch event reported for n. Descendants of a
// renamed directory keep their old path until an event names them directly.
func (n *Node) settlePath(path string) {
	if n.parent == nil {
		return
	}
	n.mu.Lock()
	if !n.destroyed && n.path != path && filepath.Base(path) == n.name {
		n.path = path
	}
	n.mu.Unlock()
}

// touch refreshes the modification time after a modify event.
func (n *Node) touch() error {
	b := &batch{}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrResolutionMiss
	}
	err := n.statLocked()
	if err == nil {
		b.modified(n)
	}
	n.mu.Unlock()

	n.tree.dispatch(b)
	if errors.Is(err, ErrNotFound) {
		n.discard()
	}
	return err
}

// rename re-keys n under its parent after the entry moved to newPath in the
// same directory. A new name that no longer qualifies removes the node.
func (n *Node) rename(newPath string) error {
	parent := n.parent
	if parent == nil {
		// The watched root itself moved away.
		n.discard()
		return nil
	}
	newName := filepath.Base(newPath)
	b := &batch{}

	parent.mu.Lock()
	defer func() {
		parent.mu.Unlock()
		n.tree.dispatch(b)
	}()

	oldName := n.Name()
	if parent.children[oldName] != n {
		return ErrResolutionMiss
	}
	// The move replaced an entry that was mirrored under the new name.
	if existing, ok := parent.children[newName]; ok && existing != n {
		existing.mu.Lock()
		existing.destroyLocked(b)
		existing.mu.Unlock()
		delete(parent.children, newName)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.destroyed {
		return ErrResolutionMiss
	}

	parent.listing = removeName(parent.listing, oldName)
	parent.listing = append(removeName(parent.listing, newName), newName)

	if isHidden(newName) || !filter.Passes(newPath, n.isDir, parent.rules) {
		n.destroyLocked(b)
		delete(parent.children, oldName)
		return nil
	}

	oldPath := n.path
	n.path = newPath
	n.name = newName
	delete(parent.children, oldName)
	parent.children[newName] = n
	if n.tree.rebaseOnRename {
		n.rebaseChildrenLocked(oldPath, newPath)
	}
	b.renamed(n, oldPath)
	return nil
}

// rebaseChildrenLocked rewrites cached descendant paths below a renamed
// directory. The caller holds n.mu.
func (n *Node) rebaseChildrenLocked(oldPrefix, newPrefix string) {
	for _, child := range n.children {
		child.mu.Lock()
		if suffix, ok := strings.CutPrefix(child.path, oldPrefix); ok {
			child.path = newPrefix + suffix
		}
		child.rebaseChildrenLocked(oldPrefix, newPrefix)
		child.mu.Unlock()
	}
}
