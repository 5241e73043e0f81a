// Package logbuffer implements the bounded ring buffer that backs the
// control plane's log tail and SSE stream.
package logbuffer

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is a live tap into the buffer's fan-out. Initial holds
// the tail lines captured at subscribe time; Lines receives every
// subsequent append.
type Subscription struct {
	ID      string
	Initial []string
	Lines   chan string
}

// Buffer is a thread-safe bounded ring of log lines with per-subscriber
// fan-out. Slow subscribers drop frames instead of blocking ingestion
// (testable property 12).
type Buffer struct {
	mu          sync.Mutex
	lines       []string
	maxLines    int
	subscribers map[string]chan string
}

// New creates a Buffer retaining at most maxLines lines.
func New(maxLines int) *Buffer {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &Buffer{
		maxLines:    maxLines,
		subscribers: make(map[string]chan string),
	}
}

// Append records a line and fans it out to every subscriber. Intended
// to be called from a zapcore.Core; never blocks.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = b.lines[over:]
	}
	subs := make([]chan string, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- line:
		default:
			// Drop for slow consumers; ingestion must never block.
		}
	}
}

// Tail returns up to n of the most recent lines (all lines if n <= 0).
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.lines) {
		out := make([]string, len(b.lines))
		copy(out, b.lines)
		return out
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Subscribe registers a new subscriber with a bounded mailbox of
// maxQueue and an initial tail of tailLines.
func (b *Buffer) Subscribe(maxQueue, tailLines int) *Subscription {
	if maxQueue <= 0 {
		maxQueue = 200
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, maxQueue)
	b.subscribers[id] = ch

	var initial []string
	if tailLines <= 0 || tailLines >= len(b.lines) {
		initial = append(initial, b.lines...)
	} else {
		initial = append(initial, b.lines[len(b.lines)-tailLines:]...)
	}

	return &Subscription{ID: id, Initial: initial, Lines: ch}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Buffer) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}
