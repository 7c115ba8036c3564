// Package client implements the terminal chat client: the display buffer,
// the line editor, reliable delivery of typed lines and the session that
// ties them to a server connection.
package client

import "sync"

// Buffer is the client's scrollback. History blocks loaded in bulk sit in
// front of live lines appended as they arrive.
//
// Every mutation raises a coalesced signal on Changed; readers take a
// snapshot with Lines.
type Buffer struct {
	mu      sync.Mutex
	history []string
	live    []string
	changed chan struct{}
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{changed: make(chan struct{}, 1)}
}

// Append adds one live line.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.live = append(b.live, line)
	b.mu.Unlock()
	b.notify()
}

// PrependHistory places an oldest-first block of older lines in front of
// the history already held.
func (b *Buffer) PrependHistory(lines []string) {
	if len(lines) == 0 {
		return
	}
	b.mu.Lock()
	history := make([]string, 0, len(lines)+len(b.history))
	history = append(history, lines...)
	b.history = append(history, b.history...)
	b.mu.Unlock()
	b.notify()
}

// Lines returns history followed by live lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := make([]string, 0, len(b.history)+len(b.live))
	lines = append(lines, b.history...)
	return append(lines, b.live...)
}

// Len returns the total number of lines held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history) + len(b.live)
}

// HistoryLen returns the number of lines loaded as history. Every one of
// them is a stored message, so it is the count a history request skips.
func (b *Buffer) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// Changed delivers a value after one or more mutations.
func (b *Buffer) Changed() <-chan struct{} {
	return b.changed
}

func (b *Buffer) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}
