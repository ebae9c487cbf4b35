// Package queue buffers envelopes between a provider stream and its mapping
// worker. Enqueue blocks while the buffer is full, so a slow sink slows the
// stream down instead of dropping events.
package queue

import (
	"context"
	"sync"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
)

// Event represents the payload type flowing through the queue.
type Event = model.Envelope

// Queue provides blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event, waiting for space. It fails with ErrClosed
	// after Close and with ctx.Err() if ctx ends first.
	Enqueue(ctx context.Context, e Event) error

	// TryEnqueue adds an event only if there is space right now.
	TryEnqueue(ctx context.Context, e Event) bool

	// Dequeue returns a channel that will receive events as they become available.
	// The channel will be closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Event

	// Len returns the current number of queued events.
	Len(ctx context.Context) int

	// Cap returns the capacity.
	Cap() int

	// Close gracefully shuts down the queue.
	// After closing, no new events can be enqueued and the dequeue channel will be closed.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int
	name     string
	metrics  *metrics.Manager

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	q.events = make(chan Event, q.capacity)
	q.metrics.UpdateQueue(q.name, 0, q.capacity)

	return q
}

// Enqueue adds an event to the queue, blocking while it is full.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.RecordError("queue", "closed")
		return ErrClosed
	}

	select {
	case q.events <- e:
		q.metrics.UpdateQueue(q.name, len(q.events), q.capacity)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		q.metrics.RecordError("queue", "closed")
		return ErrClosed
	}
}

// TryEnqueue adds an event without waiting. It returns false if the queue
// is full or closed.
func (q *InMemoryQueue) TryEnqueue(ctx context.Context, e Event) bool { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.RecordError("queue", "closed")
		return false
	}

	select {
	case q.events <- e:
		q.metrics.UpdateQueue(q.name, len(q.events), q.capacity)
		return true
	case <-ctx.Done():
		q.metrics.RecordError("queue", "context_cancelled")
		return false
	default:
		q.metrics.RecordError("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive events as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	// Wrap the channel to track dequeue metrics
	dequeueChan := make(chan Event)
	go func() {
		defer close(dequeueChan)
		for event := range q.events {
			select {
			case dequeueChan <- event:
				q.metrics.UpdateQueue(q.name, len(q.events), q.capacity)
			case <-ctx.Done():
				return
			}
		}
	}()
	return dequeueChan
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len(ctx context.Context) int {
	size := len(q.events)
	q.metrics.UpdateQueue(q.name, size, q.capacity)
	return size
}

// Cap returns the capacity.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close gracefully shuts down the queue. Blocked enqueuers are released
// with ErrClosed; events already buffered are still delivered.
func (q *InMemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil // already closed
	}

	close(q.events)
	q.closed = true

	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
