package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Background runs side effects that must outlive the request that caused
// them, such as notification fan-out. Each task gets its own deadline.
type Background struct {
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	timeout time.Duration
}

// NewBackground creates a runner whose tasks are cancelled after timeout
func NewBackground(timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Background{timeout: timeout}
}

// Go starts fn in a new goroutine. The task keeps the span of parent but
// not its cancellation. It returns false once Close has been called.
func (b *Background) Go(parent context.Context, fn func(ctx context.Context)) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	span := trace.SpanFromContext(parent)
	go func() {
		defer b.wg.Done()
		ctx := trace.ContextWithSpan(context.Background(), span)
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// Wait blocks until every started task has returned
func (b *Background) Wait() {
	b.wg.Wait()
}

// Close rejects new tasks and waits for the running ones
func (b *Background) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
