package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrUnknownEntity = errors.New("unknown entity type")
	ErrConflict      = errors.New("insert conflicts with stored entity")
	ErrUnknownOp     = errors.New("unknown modification kind")
	ErrNoStore       = errors.New("entity store not active")
)
