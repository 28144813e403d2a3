package files

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the node, or a required parent, is missing or soft-deleted.
	ErrNotFound = errors.New("files: not found")
	// ErrConflict indicates a live node already occupies the computed path.
	ErrConflict = errors.New("files: path conflict")
	// ErrInvalidOperation indicates a structurally forbidden request, such as a
	// circular move or a write to a readonly node.
	ErrInvalidOperation = errors.New("files: invalid operation")
	// ErrValidation indicates a missing or malformed required field.
	ErrValidation = errors.New("files: validation failed")
)

// ServiceError pairs an operation.reason code with the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier for the failure.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
