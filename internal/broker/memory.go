package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process FIFO instruction queue. It backs tests and
// single-process deployments where durability across restarts is not needed;
// the due scanner recovers anything lost with the process.
type MemoryBroker struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryBroker creates an in-memory broker holding at most capacity
// instructions.
func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryBroker{ch: make(chan string, capacity)}
}

// Push appends an instruction without blocking.
func (b *MemoryBroker) Push(ctx context.Context, instruction string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	select {
	case b.ch <- instruction:
		return nil
	default:
		return ErrQueueFull
	}
}

// PopBlocking waits up to timeout for an instruction.
func (b *MemoryBroker) PopBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case instruction := <-b.ch:
		return instruction, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Depth reports the number of queued instructions.
func (b *MemoryBroker) Depth(ctx context.Context) (int64, error) {
	return int64(len(b.ch)), nil
}

// Close stops accepting pushes. Queued instructions stay readable so
// draining consumers can finish.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
