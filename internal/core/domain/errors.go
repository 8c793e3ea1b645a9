// Package domain defines the core domain models for chatdesk.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the format CD-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "CD-AUTH-4030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match when
// their codes are equal.
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

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
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

// ============================================================================
// Session / Auth Errors (AUTH)
// ============================================================================

var (
	// ErrInvalidCredentials indicates the login exchange was rejected.
	ErrInvalidCredentials = NewDomainError("CD-AUTH-4010", "invalid credentials")

	// ErrNotAuthenticated indicates an operation requires a session and there is none.
	ErrNotAuthenticated = NewDomainError("CD-AUTH-4011", "not authenticated")

	// ErrRefreshDenied indicates the refresh budget is exhausted or no
	// refresh token is available. The Auth API is never contacted.
	ErrRefreshDenied = NewDomainError("CD-AUTH-4030", "refresh denied")

	// ErrExchangeFailed indicates a transport error or a non-2xx status
	// from the Auth API.
	ErrExchangeFailed = NewDomainError("CD-AUTH-5020", "token exchange failed")

	// ErrMalformedResponse indicates a 2xx token response without a usable
	// access token.
	ErrMalformedResponse = NewDomainError("CD-AUTH-5021", "malformed token response")
)

// ============================================================================
// API Errors (API)
// ============================================================================

var (
	// ErrUnauthorized indicates a Chat or Documents API call returned 401.
	ErrUnauthorized = NewDomainError("CD-API-4010", "unauthorized")

	// ErrAPIRequest indicates any other Chat or Documents API failure.
	ErrAPIRequest = NewDomainError("CD-API-5000", "api request failed")
)

// ============================================================================
// System Errors (SYS / STOR)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CD-SYS-4000", "invalid argument")

	// ErrInvalidConfig indicates the configuration failed validation.
	ErrInvalidConfig = NewDomainError("CD-SYS-4001", "invalid configuration")

	// ErrStorage indicates a credential store failure.
	ErrStorage = NewDomainError("CD-STOR-5000", "credential store error")
)
