package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnknownEntity = errors.New("unknown entity type")
)

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
