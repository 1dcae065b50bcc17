package mirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tornFS rewrites the target file while its first read is in flight.
type tornFS struct {
	FileSystem
	target  string
	rewrite time.Time

	mu    sync.Mutex
	reads int
}

func (f *tornFS) ReadFile(path string) ([]byte, error) {
	data, err := f.FileSystem.ReadFile(path)
	if path != f.target {
		return data, err
	}
	f.mu.Lock()
	f.reads++
	first := f.reads == 1
	f.mu.Unlock()
	if first {
		if writeErr := os.WriteFile(path, []byte("second"), 0o644); writeErr != nil {
			return nil, writeErr
		}
		if timeErr := os.Chtimes(path, f.rewrite, f.rewrite); timeErr != nil {
			return nil, timeErr
		}
	}
	return data, err
}

func (f *tornFS) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeInfo struct {
	name    string
	modTime time.Time
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return 0 }
func (i fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (i fakeInfo) ModTime() time.Time { return i.modTime }
func (i fakeInfo) IsDir() bool        { return false }
func (i fakeInfo) Sys() any           { return nil }

// churnFS reports a new modification time on every Stat of the target.
type churnFS struct {
	FileSystem
	target string

	mu    sync.Mutex
	stats int
}

func (f *churnFS) Stat(path string) (fs.FileInfo, error) {
	if path != f.target {
		return f.FileSystem.Stat(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats++
	return fakeInfo{name: filepath.Base(path), modTime: time.Unix(int64(f.stats), 0)}, nil
}

func TestReadContentReturnsConsistentText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "hello")

	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	node, _ := root.FindDescendant("a.txt")

	content, err := node.ReadContent(context.Background())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", content.Text)
	assert.True(t, content.ModTime.Equal(info.ModTime()))
}

func TestReadContentRetriesAfterTornRead(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "first")
	initial := time.Unix(1_700_000_000, 0)
	rewrite := time.Unix(1_700_000_100, 0)
	require.NoError(t, os.Chtimes(path, initial, initial))

	fileSystem := &tornFS{FileSystem: OS(), target: path, rewrite: rewrite}
	root, err := NewRoot(dir, Options{FS: fileSystem, ReadRetryDelay: time.Millisecond})
	require.NoError(t, err)
	node, _ := root.FindDescendant("a.txt")

	content, err := node.ReadContent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", content.Text)
	assert.True(t, content.ModTime.Equal(rewrite))
	assert.Equal(t, 2, fileSystem.readCount())
	assert.True(t, node.ModTime().Equal(rewrite))
}

func TestReadContentHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "busy.txt", "data")

	root, err := NewRoot(dir, Options{FS: &churnFS{FileSystem: OS(), target: path}, ReadRetryDelay: time.Millisecond})
	require.NoError(t, err)
	node, _ := root.FindDescendant("busy.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = node.ReadContent(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadContentOnDirectory(t *testing.T) {
	dir := t.TempDir()
	makeDir(t, dir, "sub")

	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	_, err = root.ReadContent(context.Background())
	require.ErrorIs(t, err, ErrNotAFile)
}

func TestReadContentOnVanishedFileRemovesNode(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "x")

	root, err := NewRoot(dir, Options{})
	require.NoError(t, err)
	node, _ := root.FindDescendant("a.txt")
	events := &recorder{}
	node.AddListener(events)

	require.NoError(t, os.Remove(path))
	_, err = node.ReadContent(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, node.Destroyed())
	assert.Empty(t, mirroredPaths(root))
	assert.Equal(t, []recorded{{kind: "delete", name: "a.txt"}}, events.snapshot())
}

func TestIOErrorUnwraps(t *testing.T) {
	err := classify("read", "/x", fs.ErrPermission)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.ErrorIs(t, classify("stat", "/x", fs.ErrNotExist), ErrNotFound)
}
