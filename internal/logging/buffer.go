package logging

import (
	"strings"
	"sync"
)

// DefaultBufferLines is the console panel history size.
const DefaultBufferLines = 1000

// Buffer keeps the most recent log lines in FIFO order for display.
type Buffer struct {
	mu         sync.RWMutex
	maxEntries int
	entries    []string
}

// NewBuffer creates a buffer holding at most maxEntries lines.
func NewBuffer(maxEntries int) *Buffer {
	if maxEntries <= 0 {
		maxEntries = DefaultBufferLines
	}
	return &Buffer{maxEntries: maxEntries}
}

// Write splits p into lines and appends each non-empty one.
func (b *Buffer) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		b.Append(line)
	}
	return len(p), nil
}

// Append adds one entry and drops the oldest ones past the limit.
func (b *Buffer) Append(entry string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if excess := len(b.entries) - b.maxEntries; excess > 0 {
		b.entries = append([]string(nil), b.entries[excess:]...)
	}
}

// Lines returns a copy of the buffered entries, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.entries...)
}
