package worker

import (
	"github.com/DexterZero/Spyro-API/internal/domain/dedupe"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the provider name used for logs, metrics and checkpoints.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDeduper drops envelopes already processed within the window.
func WithDeduper(d dedupe.Deduper) Option {
	return func(w *Worker) { w.dedupe = d }
}

// WithCheckpoint records each acknowledged position.
func WithCheckpoint(c Checkpointer) Option {
	return func(w *Worker) { w.checkpoint = c }
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(w *Worker) { w.metrics = m }
}
