package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lifecycle core. Sweeps treat every one of them as
// "log and move to the next ticket" rather than a crash.
var (
	// ErrNotFound means a ticket/report/operator id did not resolve.
	ErrNotFound = errors.New("not found")
	// ErrNotConformant means a ticket failed the timeout conformance gate.
	ErrNotConformant = errors.New("ticket not conformant for timeout")
	// ErrAmbiguousTarget means zero or multiple distinct IPs were found.
	ErrAmbiguousTarget = errors.New("none or multiple target ip addresses")
	// ErrDispatchFailed means a remediation job could not be scheduled or
	// did not reach a successful terminal state.
	ErrDispatchFailed = errors.New("action dispatch failed")
)

// DomainError standardizes application errors with a stable code.
type DomainError struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, Details: details}
}

func NewNotFound(resource string, details map[string]any) error {
	return &DomainError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Details: details,
		Err:     ErrNotFound,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:    "INTERNAL_ERROR",
		Message: "internal error",
		Err:     err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, ErrNotFound) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:    "INTERNAL_ERROR",
		Message: "internal error",
		Err:     err,
	}
}
