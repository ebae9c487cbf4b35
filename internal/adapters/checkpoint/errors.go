package checkpoint

import "errors"

// ErrCorrupt reports a checkpoint file that cannot be parsed.
var ErrCorrupt = errors.New("corrupt checkpoint file")
