package contract

import (
	"errors"
	"fmt"

	"github.com/danmuck/contractrpc/internal/status"
)

var (
	ErrNotInterface     = errors.New("contract: type is not an interface")
	ErrUnsupported      = errors.New("contract: unsupported method signature")
	ErrSpecMismatch     = errors.New("contract: spec does not match interface")
	ErrAlreadyBuilt     = errors.New("contract: info already built")
	ErrValidation       = errors.New("contract: validation failed")
	ErrUnknownMethod    = errors.New("contract: unknown method")
	ErrArgumentMismatch = errors.New("contract: argument count mismatch")
)

// ValidationError reports the first rule an argument failed. It matches
// ErrValidation and status.ErrBadRequest.
type ValidationError struct {
	Contract string
	Method   string
	Param    string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("contract: %s.%s: %s", e.Contract, e.Method, e.Reason)
	}
	return fmt.Sprintf("contract: %s.%s(%s): %s", e.Contract, e.Method, e.Param, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == status.ErrBadRequest
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
