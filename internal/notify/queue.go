package notify

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// DefaultQueueSize bounds how many notifications may wait for delivery.
const DefaultQueueSize = 256

// Queue delivers notifications to a downstream notifier on a single worker
// goroutine, preserving order. When the buffer is full the notification is
// dropped with a warning rather than blocking the engine.
type Queue struct {
	next   access.Notifier
	logger access.Logger
	ch     chan access.Notification

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue starts the worker. Close must be called to stop it.
func NewQueue(next access.Notifier, size int, logger access.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		next:   next,
		logger: logger,
		ch:     make(chan access.Notification, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for n := range q.ch {
		// Delivery outlives the validation request that produced it.
		q.next.Notify(context.Background(), n)
	}
}

// Notify implements access.Notifier. It never blocks.
func (q *Queue) Notify(_ context.Context, n access.Notification) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		if q.logger != nil {
			q.logger.Warn("notification queue closed, dropping",
				"type", n.Type, "method", n.Method, "source", n.Source)
		}
		return
	}
	select {
	case q.ch <- n:
	default:
		if q.logger != nil {
			q.logger.Warn("notification queue full, dropping",
				"type", n.Type, "method", n.Method, "source", n.Source)
		}
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered, or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
