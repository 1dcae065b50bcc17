// Package snapshot exports a mirrored tree as zstd-compressed JSON lines.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"treemirror/internal/mirror"
)

// Entry is one mirrored node. Path is slash-separated and relative to the root.
type Entry struct {
	Path    string    `json:"path"`
	Dir     bool      `json:"dir"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size,omitempty"`
}

// Header is the first line of every snapshot.
type Header struct {
	Root    string    `json:"root"`
	Created time.Time `json:"created"`
}

// Collect walks root depth-first in Children order.
func Collect(root *mirror.Node) []Entry {
	entries := []Entry{}
	var walk func(node *mirror.Node)
	walk = func(node *mirror.Node) {
		for _, child := range node.Children() {
			entry := Entry{
				Path:    filepath.ToSlash(child.RelativePath()),
				Dir:     child.IsDir(),
				ModTime: child.ModTime().UTC(),
			}
			if !entry.Dir {
				entry.Size = child.Size()
			}
			entries = append(entries, entry)
			if entry.Dir {
				walk(child)
			}
		}
	}
	walk(root)
	return entries
}

// Write streams a snapshot of root to w and returns the number of entries.
func Write(w io.Writer, root *mirror.Node) (int, error) {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return 0, err
	}
	lines := json.NewEncoder(encoder)
	if err := lines.Encode(Header{Root: root.RootPath(), Created: time.Now().UTC()}); err != nil {
		_ = encoder.Close()
		return 0, err
	}
	entries := Collect(root)
	for _, entry := range entries {
		if err := lines.Encode(entry); err != nil {
			_ = encoder.Close()
			return 0, err
		}
	}
	if err := encoder.Close(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (Header, []Entry, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	defer decoder.Close()

	scanner := bufio.NewScanner(decoder)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, nil, err
		}
		return Header{}, nil, errors.New("snapshot is empty")
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return Header{}, nil, fmt.Errorf("snapshot header: %w", err)
	}

	entries := []Entry{}
	for line := 2; scanner.Scan(); line++ {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return Header{}, nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, err
	}
	return header, entries, nil
}
