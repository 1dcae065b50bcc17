package mirror

import (
	"path/filepath"
	"strings"
)

// FindDescendant resolves a path relative to n one segment at a time. An
// empty path or "." resolves to n itself.
func (n *Node) FindDescendant(relativePath string) (*Node, bool) {
	cleaned := filepath.Clean(filepath.FromSlash(relativePath))
	if cleaned == "." || cleaned == "" {
		return n, !n.Destroyed()
	}
	if filepath.IsAbs(cleaned) {
		return nil, false
	}

	current := n
	for _, segment := range strings.Split(cleaned, string(filepath.Separator)) {
		if segment == ".." {
			return nil, false
		}
		current.mu.Lock()
		next, ok := current.children[segment]
		current.mu.Unlock()
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Lookup resolves an absolute path inside the tree rooted at n.
func (n *Node) Lookup(path string) (*Node, bool) {
	relative, err := filepath.Rel(n.Path(), path)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return nil, false
	}
	return n.FindDescendant(relative)
}
