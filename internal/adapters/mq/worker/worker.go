// Package worker runs the mapping stage of a provider pipeline: it takes
// envelopes off the provider's queue, maps them and hands the resulting
// modifications to the sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/mq/queue"
	"github.com/DexterZero/Spyro-API/internal/domain/dedupe"
	"github.com/DexterZero/Spyro-API/internal/domain/mapping"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Mapper turns decoded events into modifications.
type Mapper interface {
	Decode(env model.Envelope) (model.IngestEvent, error)
	MapEvent(ev model.IngestEvent, pos model.Position) ([]model.EntityModification, error)
}

// Sink receives modifications.
type Sink interface {
	Apply(ctx context.Context, mods []model.EntityModification) error
}

// Checkpointer records positions the sink has acknowledged.
type Checkpointer interface {
	Commit(ctx context.Context, provider string, pos model.Position) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Processed  uint64         `json:"processed"`
	Skipped    uint64         `json:"skipped"`
	Duplicates uint64         `json:"duplicates"`
	Regressed  uint64         `json:"timestamp_regressions"`
	Last       model.Position `json:"last_position"`
}

// Worker maps one provider's envelopes in arrival order.
type Worker struct {
	queue      Queue
	mapper     Mapper
	sink       Sink
	dedupe     dedupe.Deduper
	checkpoint Checkpointer
	name       string
	metrics    *metrics.Manager

	// Last seen event time per source stream.
	lastTime map[string]uint64

	processed  atomic.Uint64
	skipped    atomic.Uint64
	duplicates atomic.Uint64
	regressed  atomic.Uint64
	last       atomic.Pointer[model.Position]

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// New creates a worker for the provider named by WithName.
func New(q Queue, mapper Mapper, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		queue:    q,
		mapper:   mapper,
		sink:     sink,
		name:     "worker",
		lastTime: make(map[string]uint64),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes envelopes until ctx ends, Shutdown is called or the queue
// closes. A sink rejection stops the worker and is returned as is.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.shutdown:
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			// The envelope in hand is finished even if ctx ends meanwhile.
			if err := w.process(context.WithoutCancel(ctx), env); err != nil {
				return err
			}
		}
	}
}

// Shutdown stops the worker after the envelope in hand.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, env model.Envelope) error {
	digest := env.Digest()
	if w.dedupe != nil && w.dedupe.SeenAndRecord(ctx, digest) {
		w.duplicates.Add(1)
		w.metrics.RecordDuplicate(w.name)
		w.logger.Debug(ctx, "duplicate envelope",
			logger.String("kind", string(env.Kind)),
			logger.Uint64("block", env.Position.Number))
		return nil
	}

	start := time.Now()
	mods, err := w.mapEnvelope(ctx, env)
	if err != nil {
		var me *mapping.MappingError
		if !errors.As(err, &me) {
			return err
		}
		w.skipped.Add(1)
		w.metrics.RecordMappingError(w.name, string(env.Kind))
		w.logger.Warn(ctx, "skipping malformed event",
			logger.String("kind", string(me.Kind)),
			logger.Uint64("block", me.Position.Number),
			logger.String("cursor", me.Position.Cursor),
			logger.Error(me.Err))
		return nil
	}
	w.metrics.RecordMapped(w.name, string(env.Kind), time.Since(start).Seconds())

	if len(mods) > 0 {
		if err := w.sink.Apply(ctx, mods); err != nil {
			if w.dedupe != nil {
				w.dedupe.Unrecord(ctx, digest)
			}
			w.logger.Error(ctx, "sink rejected modifications",
				logger.Uint64("block", env.Position.Number),
				logger.Int("modifications", len(mods)),
				logger.Error(err))
			return err
		}
		for _, m := range mods {
			w.metrics.RecordModification(w.name, string(m.EntityType), string(m.Kind))
		}
	}

	pos := env.Position
	w.last.Store(&pos)
	if w.checkpoint != nil {
		if err := w.checkpoint.Commit(ctx, w.name, pos); err != nil {
			w.metrics.RecordError("checkpoint", "write_failed")
			w.logger.Warn(ctx, "checkpoint failed", logger.Error(err))
		}
	}
	w.processed.Add(1)
	return nil
}

// mapEnvelope decodes, observes the timestamp order and maps.
func (w *Worker) mapEnvelope(ctx context.Context, env model.Envelope) ([]model.EntityModification, error) {
	ev, err := w.mapper.Decode(env)
	if err != nil {
		return nil, err
	}

	ts := ev.Time()
	if prev, ok := w.lastTime[env.Stream]; ok && ts < prev {
		w.regressed.Add(1)
		w.metrics.RecordTimestampRegression(w.name)
		w.logger.Warn(ctx, "event timestamp went backwards",
			logger.String("stream", env.Stream),
			logger.Uint64("previous", prev),
			logger.Uint64("timestamp", ts))
	} else {
		w.lastTime[env.Stream] = ts
	}

	return w.mapper.MapEvent(ev, env.Position)
}

// Name returns the provider this worker serves.
func (w *Worker) Name() string { return w.name }

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	s := Stats{
		Processed:  w.processed.Load(),
		Skipped:    w.skipped.Load(),
		Duplicates: w.duplicates.Load(),
		Regressed:  w.regressed.Load(),
	}
	if p := w.last.Load(); p != nil {
		s.Last = *p
	}
	return s
}
