package mirror

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationCloseStopsDelivery(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	node, ok := root.FindDescendant("a.txt")
	require.True(t, ok)

	rec := &recorder{}
	registration := node.AddListener(rec)
	require.Equal(t, 1, node.ListenerCount())

	require.NoError(t, node.touch())
	registration.Close()
	registration.Close()
	require.NoError(t, node.touch())

	assert.Equal(t, []recorded{{kind: "modify", name: "a.txt"}}, rec.snapshot())
	assert.Equal(t, 0, node.ListenerCount())
}

func TestListenersClearedAfterDelete(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "a")
	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	node, _ := root.FindDescendant("a.txt")

	rec := &recorder{}
	node.AddListener(rec)
	require.NoError(t, os.Remove(path))
	require.NoError(t, root.Refresh())

	assert.Equal(t, []recorded{{kind: "delete", name: "a.txt"}}, rec.snapshot())
	assert.Equal(t, 0, node.ListenerCount())
	assert.True(t, node.Destroyed())
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	dir := t.TempDir()
	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	for index := 1; index <= 3; index++ {
		index := index
		root.AddListener(ListenerFuncs{Create: func(_, _ *Node, _, _ string) {
			mu.Lock()
			order = append(order, index)
			mu.Unlock()
		}})
	}

	writeFile(t, dir, "b.txt", "b")
	require.NoError(t, root.Refresh())

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestListenerFuncsIgnoresUnsetCallbacks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	node, _ := root.FindDescendant("a.txt")

	renamed := 0
	node.AddListener(ListenerFuncs{Rename: func(_ *Node, _, _, _ string) { renamed++ }})
	require.NoError(t, node.touch())
	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt")))
	require.NoError(t, node.rename(filepath.Join(dir, "b.txt")))

	assert.Equal(t, 1, renamed)
}

func TestAddNilListenerIsHarmless(t *testing.T) {
	root, err := NewRoot(t.TempDir(), Options{})
	require.NoError(t, err)

	registration := root.AddListener(nil)
	registration.Close()
	assert.Equal(t, 0, root.ListenerCount())
}
