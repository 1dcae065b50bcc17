package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"treemirror/internal/logging"
)

// addTree registers path and every non-skipped directory below it.
func (watcher *Watcher) addTree(root string) error {
	paths, err := collectDirs(root, watcher.skip)
	if err != nil {
		return err
	}

	added := make([]string, 0, len(paths))
	for _, path := range paths {
		ok, err := watcher.addWatch(path)
		if err != nil {
			for _, undo := range added {
				watcher.removeWatch(undo)
			}
			return err
		}
		if ok {
			added = append(added, path)
		}
	}
	return nil
}

func collectDirs(root string, skip func(string) bool) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && skip(path) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// addWatch reports whether a new native watch was registered.
func (watcher *Watcher) addWatch(path string) (bool, error) {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return false, ErrClosed
	}
	if _, ok := watcher.watched[path]; ok {
		watcher.mutex.Unlock()
		return false, nil
	}
	if len(watcher.watched) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return false, ErrMaxWatchesExceeded
	}
	watcher.watched[path] = struct{}{}
	activeCount := len(watcher.watched)
	source := watcher.watcher
	watcher.mutex.Unlock()

	if err := source.Add(path); err != nil {
		watcher.mutex.Lock()
		delete(watcher.watched, path)
		watcher.mutex.Unlock()
		// The directory vanished between the walk and the add.
		if os.IsNotExist(err) {
			return false, nil
		}
		watcher.logWarn("watch add failed", map[string]string{
			logging.FieldPath:  path,
			logging.FieldError: err.Error(),
		})
		return false, err
	}
	watcher.logDebug("watch added", path, activeCount)
	return true, nil
}

// removeTree drops the watch for path and every watched path below it.
func (watcher *Watcher) removeTree(root string) {
	for _, path := range watcher.watchedUnder(root) {
		watcher.removeWatch(path)
	}
}

func (watcher *Watcher) removeWatch(path string) {
	watcher.mutex.Lock()
	if _, ok := watcher.watched[path]; !ok {
		watcher.mutex.Unlock()
		return
	}
	delete(watcher.watched, path)
	activeCount := len(watcher.watched)
	source := watcher.watcher
	closed := watcher.closed
	watcher.mutex.Unlock()

	if closed || source == nil {
		return
	}
	// fsnotify already dropped watches on deleted or moved directories.
	if err := source.Remove(path); err != nil {
		watcher.logger.Debug("watch remove skipped", map[string]string{
			logging.FieldPath:  path,
			logging.FieldError: err.Error(),
		})
		return
	}
	watcher.logDebug("watch removed", path, activeCount)
}

// rewatch moves watches from a renamed directory to its new location.
func (watcher *Watcher) rewatch(oldPath, newPath string) {
	watcher.removeTree(oldPath)
	info, err := os.Lstat(newPath)
	if err != nil || !info.IsDir() || watcher.skip(newPath) {
		return
	}
	if err := watcher.addTree(newPath); err != nil {
		watcher.logWarn("watch add failed", map[string]string{
			logging.FieldPath:  newPath,
			logging.FieldError: err.Error(),
		})
	}
}

func (watcher *Watcher) watchedUnder(root string) []string {
	prefix := root + string(os.PathSeparator)
	watcher.mutex.Lock()
	paths := make([]string, 0)
	for path := range watcher.watched {
		if path == root || strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	watcher.mutex.Unlock()
	// Deepest first so children go before their parents.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths
}

// WatchedPaths returns the directories currently registered with fsnotify.
func (watcher *Watcher) WatchedPaths() []string {
	watcher.mutex.Lock()
	paths := make([]string, 0, len(watcher.watched))
	for path := range watcher.watched {
		paths = append(paths, path)
	}
	watcher.mutex.Unlock()
	sort.Strings(paths)
	return paths
}
