// Package domain defines the core domain models for vmsnap.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the format VS-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "VS-SNAP-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Snapshot errors (SNAP).
var (
	// ErrSnapshotNotFound indicates no snapshot with the requested name exists.
	ErrSnapshotNotFound = NewDomainError("VS-SNAP-4040", "snapshot not found")

	// ErrInvalidName indicates the snapshot name cannot be used as a storage key.
	ErrInvalidName = NewDomainError("VS-SNAP-4000", "invalid snapshot name")
)

// Display errors (DISP).
var (
	// ErrNoRenderContext indicates the framebuffer cannot be read on this thread
	// or no rendering context is active.
	ErrNoRenderContext = NewDomainError("VS-DISP-5030", "no active rendering context")

	// ErrInvalidPixelBuffer indicates a pixel buffer whose size does not match
	// its dimensions and pixel format.
	ErrInvalidPixelBuffer = NewDomainError("VS-DISP-4000", "invalid pixel buffer")
)

// System errors (SYS).
var (
	// ErrStorage indicates a VM-state storage failure.
	ErrStorage = NewDomainError("VS-SYS-5001", "storage error")
)
