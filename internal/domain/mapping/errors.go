package mapping

import (
	"errors"
	"fmt"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Sentinel errors. Every *MappingError matches ErrMapping.
var (
	ErrMapping         = errors.New("mapping error")
	ErrTransformPanic  = errors.New("transform panicked")
	ErrContract        = errors.New("transform output violates entity contract")
	ErrUnsupportedKind = errors.New("event kind not handled by transform")
)

// MappingError reports an event that could not be mapped. The event is
// skipped; processing continues with the next one.
type MappingError struct {
	Provider string
	Kind     model.EventKind
	Position model.Position
	Err      error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s event from %s at #%d: %v", e.Kind, e.Provider, e.Position.Number, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Is makes every MappingError match ErrMapping.
func (e *MappingError) Is(target error) bool { return target == ErrMapping }
