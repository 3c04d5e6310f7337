// Package memory provides the in-process work buffer shared by populators and the dispatcher.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Buffer is a bounded FIFO of frontier entries with context-aware operations.
// Appends from concurrent populators are serialized by the channel.
type Buffer struct {
	ch      chan frontier.Entry
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewBuffer constructs a buffer with the provided capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		ch:   make(chan frontier.Entry, capacity),
		done: make(chan struct{}),
	}
}

// Append pushes an entry, blocking while the buffer is full.
func (b *Buffer) Append(ctx context.Context, entry frontier.Entry) error {
	select {
	case <-b.done:
		return frontier.ErrBufferClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("append canceled: %w", ctx.Err())
	case <-b.done:
		return frontier.ErrBufferClosed
	case b.ch <- entry:
		return nil
	}
}

// Next pops the oldest entry. Entries appended before Close are still drained.
func (b *Buffer) Next(ctx context.Context) (frontier.Entry, error) {
	select {
	case entry := <-b.ch:
		return entry, nil
	default:
	}
	select {
	case <-ctx.Done():
		return frontier.Entry{}, fmt.Errorf("next canceled: %w", ctx.Err())
	case entry := <-b.ch:
		return entry, nil
	case <-b.done:
		select {
		case entry := <-b.ch:
			return entry, nil
		default:
			return frontier.Entry{}, frontier.ErrBufferClosed
		}
	}
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	return len(b.ch)
}

// Cap reports the buffer capacity.
func (b *Buffer) Cap() int {
	return cap(b.ch)
}

// Close stops further appends. Safe to call more than once.
func (b *Buffer) Close() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	close(b.done)
	b.closed = true
}
