package service

import (
	"errors"

	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
)

// Sentinel errors returned by the service.
var (
	ErrNoStore         = repository.ErrNoStore
	ErrShutdownTimeout = errors.New("shutdown timed out")
	ErrNotStarted      = errors.New("service not started")
)
