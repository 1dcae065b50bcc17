package logging

import (
	"sync"

	"treemirror/internal/buffer"
)

type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Find returns buffered entries with the given message, oldest first.
func (b *LogBuffer) Find(message string) []LogEntry {
	var matched []LogEntry
	for _, entry := range b.List() {
		if entry.Message == message {
			matched = append(matched, entry)
		}
	}
	return matched
}
