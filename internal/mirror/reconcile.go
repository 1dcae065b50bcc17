package mirror

import (
	"errors"
	"io/fs"
	"path/filepath"

	"treemirror/internal/filter"
	"treemirror/internal/logging"
)

type reconcilePass struct {
	trigger   string
	recursive bool
	// rules, when set, replace each visited directory's rules before diffing.
	rules *filter.Rules
}

// reconcileLocked converges n's children with a fresh listing of n's
// directory. The caller holds n.mu. ErrNotFound means n itself vanished and
// must be discarded by the caller.
func (n *Node) reconcileLocked(b *batch, pass reconcilePass) error {
	entries, err := n.tree.fs.ReadDir(n.path)
	if err != nil {
		err = classify("readdir", n.path, err)
		if !errors.Is(err, ErrNotFound) {
			n.tree.logger.Warn("reconcile failed", map[string]string{
				logging.FieldPath:  n.path,
				logging.FieldError: err.Error(),
			})
		}
		return err
	}
	n.tree.metrics.IncReconcile(pass.trigger)
	if pass.rules != nil {
		n.rules = *pass.rules
	}

	present := make(map[string]fs.DirEntry, len(entries))
	listing := make([]string, 0, len(entries))
	for _, entry := range entries {
		present[entry.Name()] = entry
		listing = append(listing, entry.Name())
	}
	n.listing = listing

	// Drop children that vanished, flipped kind or stopped qualifying.
	for _, name := range sortedKeys(n.children) {
		child := n.children[name]
		entry, ok := present[name]
		child.mu.Lock()
		if ok {
			// The listing proves where the child lives now.
			child.path = filepath.Join(n.path, name)
		}
		if pass.rules != nil && !child.isDir {
			child.rules = *pass.rules
		}
		stale := !ok || entry.IsDir() != child.isDir || !filter.Passes(child.path, child.isDir, n.rules)
		if !stale && pass.recursive && child.isDir {
			if err := child.reconcileLocked(b, pass); errors.Is(err, ErrNotFound) {
				stale = true
			}
		}
		if stale {
			child.destroyLocked(b)
		}
		child.mu.Unlock()
		if stale {
			delete(n.children, name)
		}
	}

	for _, entry := range entries {
		n.importLocked(b, entry, pass)
	}
	return nil
}

// importLocked mirrors one listed entry if it qualifies and is not mirrored
// yet. The caller holds n.mu.
func (n *Node) importLocked(b *batch, entry fs.DirEntry, pass reconcilePass) {
	name := entry.Name()
	if isHidden(name) {
		return
	}
	if _, ok := n.children[name]; ok {
		return
	}
	path := filepath.Join(n.path, name)
	if !filter.Passes(path, entry.IsDir(), n.rules) {
		return
	}

	info, err := n.tree.fs.Lstat(path)
	if err != nil {
		// Gone already; the next pass converges.
		if !isNotExist(err) {
			n.tree.logger.Warn("stat failed", map[string]string{
				logging.FieldPath:  path,
				logging.FieldError: err.Error(),
			})
		}
		return
	}

	child := n.tree.newNode(n, path, info.IsDir(), info.ModTime(), info.Size())
	n.children[name] = child
	b.created(n, child)

	if child.isDir {
		child.mu.Lock()
		err := child.reconcileLocked(b, reconcilePass{trigger: pass.trigger, recursive: true})
		if errors.Is(err, ErrNotFound) {
			child.destroyLocked(b)
		}
		child.mu.Unlock()
		if errors.Is(err, ErrNotFound) {
			delete(n.children, name)
		}
	}
}

// importEntry runs a one-entry reconciliation for name inside directory n
// after a creation was reported for it.
func (n *Node) importEntry(name string) error {
	b := &batch{}

	n.mu.Lock()
	if n.destroyed || !n.isDir {
		n.mu.Unlock()
		return ErrResolutionMiss
	}
	entries, err := n.tree.fs.ReadDir(n.path)
	if err != nil {
		n.mu.Unlock()
		err = classify("readdir", n.path, err)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		// Below the root a missing directory may only be a stale cached path;
		// its own deletion event removes it.
		if n.parent != nil {
			return ErrResolutionMiss
		}
		n.discard()
		return err
	}
	n.tree.metrics.IncReconcile("created")

	var found fs.DirEntry
	listing := make([]string, 0, len(entries))
	for _, entry := range entries {
		listing = append(listing, entry.Name())
		if entry.Name() == name {
			found = entry
		}
	}
	n.listing = listing

	if found != nil {
		if existing, ok := n.children[name]; ok && existing.isDir != found.IsDir() {
			existing.mu.Lock()
			existing.destroyLocked(b)
			existing.mu.Unlock()
			delete(n.children, name)
		}
		n.importLocked(b, found, reconcilePass{trigger: "created"})
	}
	n.mu.Unlock()

	n.tree.dispatch(b)
	return nil
}
