package mirror

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root string, relative string, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(relative))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func makeDir(t *testing.T, root string, relative string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(relative))
	require.NoError(t, os.MkdirAll(path, 0o755))
	return path
}

// mirroredPaths lists every node below root as slash-separated relative paths.
func mirroredPaths(root *Node) []string {
	paths := []string{}
	var walk func(node *Node)
	walk = func(node *Node) {
		for _, child := range node.Children() {
			paths = append(paths, filepath.ToSlash(child.RelativePath()))
			walk(child)
		}
	}
	walk(root)
	sort.Strings(paths)
	return paths
}

type recorded struct {
	kind string
	name string
	old  string
}

// recorder is a Listener that keeps every call in order.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) add(event recorded) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) OnCreate(_, _ *Node, _, name string) {
	r.add(recorded{kind: "create", name: name})
}

func (r *recorder) OnDelete(_ *Node, _, name string) {
	r.add(recorded{kind: "delete", name: name})
}

func (r *recorder) OnModify(_ *Node, _, name string) {
	r.add(recorded{kind: "modify", name: name})
}

func (r *recorder) OnRename(_ *Node, _, oldName, newName string) {
	r.add(recorded{kind: "rename", name: newName, old: oldName})
}

func (r *recorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recorded, len(r.events))
	copy(out, r.events)
	return out
}
