package dedupe

// Option applies a configuration option to the deduper.
type Option func(*window)

// WithMaxSize sets how many digests the window remembers.
// If maxSize <= 0 the window is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *window) {
		d.maxSize = maxSize
	}
}

// WithEvictHook registers a callback run each time a digest falls out of
// the window.
func WithEvictHook(fn func()) Option {
	return func(d *window) {
		d.onEvict = fn
	}
}
