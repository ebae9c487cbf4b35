// Package sink delivers entity modifications to a downstream store.
//
// The core treats every store the same way: one Apply call per mapped event,
// in arrival order per provider. An error from Apply is a rejection; it is
// handed back to the caller exactly as the store produced it and never
// retried here.
package sink

import (
	"context"
	"errors"
	"time"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Sink accepts ordered batches of modifications. Implementations must be
// safe for concurrent use by several provider workers.
type Sink interface {
	Apply(ctx context.Context, mods []model.EntityModification) error
	Close() error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, mods []model.EntityModification) error

// Apply calls f.
func (f Func) Apply(ctx context.Context, mods []model.EntityModification) error { return f(ctx, mods) }

// Close does nothing.
func (Func) Close() error { return nil }

// instrumented records latency and outcome of every write.
type instrumented struct {
	name    string
	next    Sink
	metrics *metrics.Manager
}

// Instrument wraps s so that each Apply is timed and counted under name.
// Errors pass through untouched.
func Instrument(name string, s Sink, m *metrics.Manager) Sink {
	if m == nil {
		return s
	}
	return &instrumented{name: name, next: s, metrics: m}
}

func (i *instrumented) Apply(ctx context.Context, mods []model.EntityModification) error {
	start := time.Now()
	err := i.next.Apply(ctx, mods)
	i.metrics.RecordSinkWrite(i.name, time.Since(start).Seconds(), err)
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }

// Multi fans each batch out to every sink in order and stops at the first
// rejection.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Apply writes to each sink in turn. The first error is returned unmodified.
func (m *Multi) Apply(ctx context.Context, mods []model.EntityModification) error {
	for _, s := range m.sinks {
		if err := s.Apply(ctx, mods); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
