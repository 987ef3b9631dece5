package scan

import (
	"errors"
	"fmt"

	"netreaper/cmd/internal/fault"
)

var (
	ErrNotFound      = errors.New("scan job not found")
	ErrInvalidMode   = &fault.ValidationError{Reason: "Mode must be quick or wifi"}
	ErrEmptyTarget   = &fault.ValidationError{Reason: "Target cannot be empty"}
	ErrBinaryMissing = fmt.Errorf("NetReaper binary not found: %w", fault.ErrExecution)
	ErrClosed        = errors.New("scan manager closed")
)
