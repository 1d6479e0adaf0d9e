package models

import "errors"

// Engine error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and
// match with errors.Is.
var (
	ErrInvalidEvent            = errors.New("invalid event")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrInsufficientAccountData = errors.New("insufficient account data")
	ErrOverload                = errors.New("ingest overload")
	ErrOutOfOrder              = errors.New("event out of order")
	ErrClosed                  = errors.New("engine closed")
	ErrAssetNotFound           = errors.New("asset not found")
)
