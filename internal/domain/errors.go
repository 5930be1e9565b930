package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected task")
	ErrTimeout             = errors.New("task timed out")
	ErrStateConflict       = errors.New("pipeline state conflict")
	ErrAssemblyFailure     = errors.New("assembly failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
)
