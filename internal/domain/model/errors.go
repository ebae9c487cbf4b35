package model

import "errors"

// Sentinel error kinds for this package.
var (
	ErrUnknownKind   = errors.New("unknown event kind")
	ErrDecodePayload = errors.New("decode payload")
	ErrInvalidField  = errors.New("invalid field")
	ErrOverflow      = errors.New("value exceeds 128-bit range")
)
