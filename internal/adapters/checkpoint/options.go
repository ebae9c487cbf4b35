package checkpoint

import (
	"time"

	"github.com/DexterZero/Spyro-API/pkg/clock"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
)

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithFlushInterval bounds how often commits reach the disk. Zero writes
// on every commit.
func WithFlushInterval(d time.Duration) Option {
	return func(s *FileStore) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *FileStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetrics counts flushes.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *FileStore) { s.metrics = m }
}
