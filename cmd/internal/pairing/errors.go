package pairing

import (
	"errors"
	"fmt"

	"netreaper/cmd/internal/fault"
)

var (
	ErrInvalidInput = fmt.Errorf("pairing: %w", fault.ErrValidation)
	ErrInvalidCode  = fmt.Errorf("pairing: invalid code format: %w", fault.ErrValidation)
	ErrNotFound     = errors.New("pairing session not found")
	ErrConflict     = errors.New("pairing code already exists")
	ErrFull         = errors.New("pairing store full")
)
