package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeUnauthenticated   ErrorType = "unauthenticated"
	ErrorTypeInvalidCredential ErrorType = "invalid_credential"
	ErrorTypeOriginDenied      ErrorType = "origin_denied"
	ErrorTypeUnavailable       ErrorType = "unavailable"
	ErrorTypeInternal          ErrorType = "internal"
)

// Client-facing messages. They are identical for every cause within a type.
const (
	MessageLoginRequired      = "login first to access this page"
	MessageInvalidToken       = "invalid token"
	MessageInvalidCredentials = "invalid email or password"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	ErrPrincipalNotFound = NewDomainError(ErrorTypeNotFound, "principal not found", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	ErrLoginRequired      = NewDomainError(ErrorTypeUnauthenticated, MessageLoginRequired, nil)
	ErrInvalidToken       = NewDomainError(ErrorTypeInvalidCredential, MessageInvalidToken, nil)
	ErrInvalidCredentials = NewDomainError(ErrorTypeInvalidCredential, MessageInvalidCredentials, nil)

	ErrOriginDenied = NewDomainError(ErrorTypeOriginDenied, "origin not allowed", nil)

	ErrStoreUnavailable = NewDomainError(ErrorTypeUnavailable, "principal store unavailable", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthenticatedError checks if the caller presented no usable identity
func IsUnauthenticatedError(err error) bool {
	return hasType(err, ErrorTypeUnauthenticated)
}

// IsInvalidCredentialError checks if the caller presented a credential that was rejected
func IsInvalidCredentialError(err error) bool {
	return hasType(err, ErrorTypeInvalidCredential)
}

// IsOriginDeniedError checks if an error is an origin denial
func IsOriginDeniedError(err error) bool {
	return hasType(err, ErrorTypeOriginDenied)
}

// IsUnavailableError checks if a dependency could not be reached
func IsUnavailableError(err error) bool {
	return hasType(err, ErrorTypeUnavailable)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUnavailable wraps a dependency failure
func WrapUnavailable(message string, err error) error {
	return NewDomainError(ErrorTypeUnavailable, message, err)
}
