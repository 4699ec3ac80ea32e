package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Wrap with fmt.Errorf("%w: ...") to add
// detail; match with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidOrder       = fmt.Errorf("%w: invalid order parameters", ErrValidation)
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidSymbol      = errors.New("invalid symbol")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
