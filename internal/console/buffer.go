package console

import "sync"

// RingBuffer keeps the most recent console lines for the status server
type RingBuffer struct {
	lines    []string
	maxLines int
	current  int
	full     bool
	mu       sync.RWMutex
}

// NewRingBuffer creates a new ring buffer
func NewRingBuffer(maxLines int) *RingBuffer {
	if maxLines <= 0 {
		maxLines = 500
	}
	return &RingBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add adds a line to the buffer
func (rb *RingBuffer) Add(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.current] = line
	rb.current = (rb.current + 1) % rb.maxLines

	if rb.current == 0 {
		rb.full = true
	}
}

// GetLines returns a copy of all lines, oldest first
func (rb *RingBuffer) GetLines() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		return append([]string(nil), rb.lines[:rb.current]...)
	}

	result := make([]string, rb.maxLines)
	for i := 0; i < rb.maxLines; i++ {
		result[i] = rb.lines[(rb.current+i)%rb.maxLines]
	}
	return result
}

// GetLast returns the last N lines
func (rb *RingBuffer) GetLast(n int) []string {
	lines := rb.GetLines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
