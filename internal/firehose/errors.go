package firehose

import "errors"

// Sentinel errors.
var (
	ErrUnknownFormat    = errors.New("unknown output format")
	ErrNondeterministic = errors.New("mapping is not deterministic")
	ErrNoProviders      = errors.New("no providers to generate for")
)
