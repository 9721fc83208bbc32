package errors

import "fmt"

// ErrorCode represents a Stash error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"         // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"               // 404
	ErrCapacityExceeded      ErrorCode = "CAPACITY_EXCEEDED"       // 409
	ErrAlreadyExists         ErrorCode = "ALREADY_EXISTS"          // 409
	ErrStorageReadCorruption ErrorCode = "STORAGE_READ_CORRUPTION" // 500
	ErrInternal              ErrorCode = "INTERNAL"                // 500
	ErrStorageWriteFailure   ErrorCode = "STORAGE_WRITE_FAILURE"   // 507
	ErrStorageReadFailure    ErrorCode = "STORAGE_READ_FAILURE"    // 503
)

// StashError represents a structured error with code, status, and details.
type StashError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *StashError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StashError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StashError {
	return &StashError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an id that is not in the expected lifecycle state.
// state is the state the operation required ("active", "trashed", or "" for any).
func NewNotFound(id, state string) *StashError {
	msg := fmt.Sprintf("artifact not found: %s", id)
	if state != "" {
		msg = fmt.Sprintf("no %s artifact with id %s", state, id)
	}
	return &StashError{
		Code:    ErrNotFound,
		Status:  404,
		Message: msg,
		Details: map[string]any{"id": id, "state": state},
	}
}

// NewCapacityExceeded creates a 409 error when an insert or restore would
// push the active set past its cap.
func NewCapacityExceeded(max int) *StashError {
	return &StashError{
		Code:    ErrCapacityExceeded,
		Status:  409,
		Message: fmt.Sprintf("vault is full: %d active artifacts (max %d)", max, max),
		Details: map[string]any{"max_capacity": max},
	}
}

// NewAlreadyExists creates a 409 error for an id collision on import.
func NewAlreadyExists(id string) *StashError {
	return &StashError{
		Code:    ErrAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("artifact already exists: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewStorageWriteFailure creates a 507 error when the substrate rejects a write.
func NewStorageWriteFailure(key string, err error) *StashError {
	msg := "storage write failed"
	if err != nil {
		msg = fmt.Sprintf("storage write failed: %v", err)
	}
	return &StashError{
		Code:    ErrStorageWriteFailure,
		Status:  507,
		Message: msg,
		Details: map[string]any{"key": key},
		cause:   err,
	}
}

// NewStorageReadCorruption creates a 500 error for a persisted payload that
// failed to parse. Callers log it and reinitialize; it is not returned upward.
func NewStorageReadCorruption(key string, err error) *StashError {
	msg := "stored payload is corrupt"
	if err != nil {
		msg = fmt.Sprintf("stored payload is corrupt: %v", err)
	}
	return &StashError{
		Code:    ErrStorageReadCorruption,
		Status:  500,
		Message: msg,
		Details: map[string]any{"key": key},
		cause:   err,
	}
}

// NewStorageReadFailure creates a 503 error when the substrate cannot be
// read at all. Unlike corruption it is returned, and the caller must not
// write.
func NewStorageReadFailure(key string, err error) *StashError {
	msg := "storage read failed"
	if err != nil {
		msg = fmt.Sprintf("storage read failed: %v", err)
	}
	return &StashError{
		Code:    ErrStorageReadFailure,
		Status:  503,
		Message: msg,
		Details: map[string]any{"key": key},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StashError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StashError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is a StashError with the given code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := err.(*StashError); ok {
		return sErr.Code == code
	}
	return false
}
