package mapping

// Option configures an Engine.
type Option func(*Engine)

// WithTransform routes events from provider through t instead of Canonical.
func WithTransform(provider string, t Transform) Option {
	return func(e *Engine) {
		if provider != "" && t != nil {
			e.transforms[provider] = t
		}
	}
}

// WithDefaultTransform replaces the fallback transform.
func WithDefaultTransform(t Transform) Option {
	return func(e *Engine) {
		if t != nil {
			e.fallback = t
		}
	}
}
