package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func envelope(n uint64) model.Envelope {
	return model.MustEnvelope(model.ProviderStats{Provider: "render", NodeID: "n1", Score: 1, Timestamp: n}, model.Position{Number: n})
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	// Test empty queue
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if err := q.Enqueue(ctx, envelope(1)); err != nil {
		t.Errorf("expected enqueue to succeed, got %v", err)
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	// Test dequeue
	eventChan := q.Dequeue(ctx)
	event := <-eventChan
	if event.Position.Number != 1 {
		t.Errorf("expected block 1, got %d", event.Position.Number)
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.TryEnqueue(ctx, envelope(1)) || !q.TryEnqueue(ctx, envelope(2)) {
		t.Fatal("expected enqueue to succeed")
	}

	// Try to enqueue when full
	if q.TryEnqueue(ctx, envelope(3)) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
	if q.Cap() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Cap())
	}
}

func TestInMemoryQueue_BlockingEnqueue(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()

	if err := q.Enqueue(ctx, envelope(1)); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}

	// A full queue holds the producer until the deadline.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(short, envelope(2)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	// Draining one slot releases a waiting producer.
	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, envelope(3)) }()

	events := q.Dequeue(ctx)
	if got := <-events; got.Position.Number != 1 {
		t.Errorf("expected block 1, got %d", got.Position.Number)
	}
	if err := <-done; err != nil {
		t.Errorf("expected blocked enqueue to succeed, got %v", err)
	}
	if got := <-events; got.Position.Number != 3 {
		t.Errorf("expected block 3, got %d", got.Position.Number)
	}
}

func TestInMemoryQueue_CloseReleasesProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()
	_ = q.Enqueue(ctx, envelope(1))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, envelope(2)) }()
	time.Sleep(10 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released by Close")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(16))
	ctx := context.Background()
	numGoroutines := 10
	numEvents := 100

	var producers sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			for j := 0; j < numEvents; j++ {
				if err := q.Enqueue(ctx, envelope(uint64(id*numEvents+j))); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(i)
	}

	consumed := make(chan struct{}, numGoroutines*numEvents)
	events := q.Dequeue(ctx)
	go func() {
		for range events {
			consumed <- struct{}{}
		}
	}()

	producers.Wait()
	for i := 0; i < numGoroutines*numEvents; i++ {
		select {
		case <-consumed:
		case <-time.After(time.Second):
			t.Fatalf("consumed %d of %d events", i, numGoroutines*numEvents)
		}
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if err := q.Enqueue(ctx, envelope(1)); err != nil {
		t.Error("expected enqueue to succeed")
	}

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}

	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	if err := q.Enqueue(ctx, envelope(2)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after closing, got %v", err)
	}

	// Buffered events drain, then the channel closes.
	eventChan := q.Dequeue(ctx)
	timeout := time.After(100 * time.Millisecond)
	drained := 0
	for {
		select {
		case _, ok := <-eventChan:
			if !ok {
				if drained != 1 {
					t.Errorf("expected 1 drained event, got %d", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained++
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}

func TestInMemoryQueue_Metrics(t *testing.T) {
	m := metrics.New()
	defer m.Close()

	q := NewInMemoryQueue(WithCapacity(4), WithName("render"), WithMetrics(m))
	ctx := context.Background()
	_ = q.Enqueue(ctx, envelope(1))
	_ = q.Enqueue(ctx, envelope(2))

	expected := `
# HELP spyro_ingest_queue_size Envelopes buffered between stream and mapper
# TYPE spyro_ingest_queue_size gauge
spyro_ingest_queue_size{provider="render"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "spyro_ingest_queue_size"); err != nil {
		t.Error(err)
	}
}
