package metrics

import "errors"

// ErrUnregister is returned by Close when a collector is no longer on the
// registry.
var ErrUnregister = errors.New("metrics unregister failed")
