// Package logging holds log sinks shared by runtime components.
package logging

import (
	"bytes"
	"strings"
	"sync"
)

const defaultBufferLimit = 1000

// LogBuffer keeps the most recent log lines written to it. It is safe for
// concurrent use and can be tee'd behind a zerolog writer.
type LogBuffer struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial []byte
}

// NewLogBuffer creates a buffer with the provided capacity in lines (defaults to 1000).
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &LogBuffer{
		limit: limit,
		lines: make([]string, 0, min(limit, 64)),
	}
}

// Write stores every complete line of p. A trailing fragment is kept until
// its newline arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		b.add(string(data[:idx]))
		data = data[idx+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) add(line string) {
	if len(b.lines) == b.limit {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
		return
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// String renders the buffered lines, newline terminated.
func (b *LogBuffer) String() string {
	lines := b.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
