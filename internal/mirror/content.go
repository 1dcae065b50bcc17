package mirror

import (
	"context"
	"errors"
	"strconv"
	"time"

	"treemirror/internal/logging"
)

// FileContent is the text of a file together with the modification time it
// had while being read.
type FileContent struct {
	ModTime time.Time
	Text    string
}

// ReadContent reads the whole file, retrying until the modification time is
// the same before and after the read. There is no retry bound; cancel ctx to
// give up. A file that vanished is removed from the tree and reported as
// ErrNotFound. Any other failure is an *IOError.
func (n *Node) ReadContent(ctx context.Context) (FileContent, error) {
	if n.isDir {
		return FileContent{}, ErrNotAFile
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return FileContent{}, err
		}
		path := n.Path()
		content, consistent, err := n.readOnce(path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				n.discard()
			}
			return FileContent{}, err
		}
		if consistent {
			n.mu.Lock()
			n.modTime = content.ModTime
			n.size = int64(len(content.Text))
			n.mu.Unlock()
			return content, nil
		}

		n.tree.metrics.IncReadRetry()
		n.tree.logger.Debug("content changed during read", map[string]string{
			logging.FieldPath: path,
			"attempt":         strconv.Itoa(attempt + 1),
		})
		timer := time.NewTimer(n.tree.readRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FileContent{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (n *Node) readOnce(path string) (FileContent, bool, error) {
	before, err := n.tree.fs.Stat(path)
	if err != nil {
		return FileContent{}, false, classify("stat", path, err)
	}
	if before.IsDir() {
		return FileContent{}, false, ErrNotAFile
	}
	data, err := n.tree.fs.ReadFile(path)
	if err != nil {
		return FileContent{}, false, classify("read", path, err)
	}
	after, err := n.tree.fs.Stat(path)
	if err != nil {
		return FileContent{}, false, classify("stat", path, err)
	}
	if !before.ModTime().Equal(after.ModTime()) {
		return FileContent{}, false, nil
	}
	return FileContent{ModTime: after.ModTime(), Text: string(data)}, true, nil
}
