package sink

import "errors"

// Sentinel errors.
var (
	ErrUnknownKind        = errors.New("unknown sink kind")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrClosed             = errors.New("sink closed")
	ErrUnsupportedOp      = errors.New("modification kind not supported by sink")
	ErrConfig             = errors.New("invalid sink configuration")
	ErrBlockRange         = errors.New("block number does not fit a BIGINT column")
)
