package source

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrConnection    = errors.New("connection error")
	ErrProtocol      = errors.New("protocol error")
	ErrUnknownKind   = errors.New("unknown source kind")
	ErrUnknownFormat = errors.New("unknown record format")
	ErrConfig        = errors.New("invalid source config")
)

// ConnectionError reports a transport failure: dial, read or HTTP status.
// The resilient stream retries these.
type ConnectionError struct {
	Source string
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is matches ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError reports a frame the source could not understand.
type ProtocolError struct {
	Source string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol: %v", e.Source, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is matches ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
