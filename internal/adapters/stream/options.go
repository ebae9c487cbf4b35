package stream

import (
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/clock"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Option configures a Resilient stream.
type Option func(*Resilient)

// WithBackoff replaces the default 1s..30s doubling backoff.
func WithBackoff(b *Backoff) Option {
	return func(r *Resilient) {
		if b != nil {
			r.backoff = b
		}
	}
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(r *Resilient) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resilient) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(r *Resilient) {
		r.metrics = m
	}
}

// WithStart sets the position the first connection resumes from.
func WithStart(pos model.Position) Option {
	return func(r *Resilient) {
		r.last = pos
	}
}
