package internal

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeFieldsRequired     ErrorCode = "FIELDS_REQUIRED"
	ErrCodeInvalidEmail       ErrorCode = "INVALID_EMAIL"
	ErrCodePasswordsMismatch  ErrorCode = "PASSWORDS_MISMATCH"
	ErrCodePasswordTooLong    ErrorCode = "PASSWORD_TOO_LONG"
	ErrCodeEmailRequired      ErrorCode = "EMAIL_REQUIRED"
	ErrCodeCredentialsMissing ErrorCode = "CREDENTIALS_REQUIRED"
	ErrCodeEmailInUse         ErrorCode = "EMAIL_IN_USE"

	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeMissingToken       ErrorCode = "MISSING_TOKEN"

	ErrCodeResourceRequired    ErrorCode = "RESOURCE_REQUIRED"
	ErrCodeGranteeRequired     ErrorCode = "GRANTEE_REQUIRED"
	ErrCodePermissionsRequired ErrorCode = "PERMISSIONS_REQUIRED"
	ErrCodeInvalidPermission   ErrorCode = "INVALID_PERMISSION"
	ErrCodeAssignerNotFound    ErrorCode = "ASSIGNER_NOT_FOUND"
	ErrCodePermissionsNotFound ErrorCode = "PERMISSIONS_NOT_FOUND"
	ErrCodeSearchQueryRequired ErrorCode = "SEARCH_QUERY_REQUIRED"
	ErrCodeInvalidBody         ErrorCode = "INVALID_BODY"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a classified error whose Message is safe to show to API clients.
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is makes two AppErrors with the same code match under errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy carrying cause; sentinels are never mutated.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func (e *AppError) IsClientError() bool {
	return e.Type != ErrorTypeInternal
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// Registration and login.
var (
	ErrAllFieldsRequired   = NewValidationError("all fields required", ErrCodeFieldsRequired)
	ErrInvalidEmail        = NewValidationError("invalid email", ErrCodeInvalidEmail)
	ErrPasswordsMismatch   = NewValidationError("passwords do not match", ErrCodePasswordsMismatch)
	ErrPasswordTooLong     = NewValidationError("password is too long", ErrCodePasswordTooLong)
	ErrEmailInUse          = NewConflictError("email already in use", ErrCodeEmailInUse)
	ErrCredentialsRequired = NewValidationError("email and password required", ErrCodeCredentialsMissing)
	ErrEmailRequired       = NewValidationError("email is required", ErrCodeEmailRequired)
	ErrUserNotFound        = NewNotFoundError("user not found", ErrCodeUserNotFound)
	ErrInvalidCredentials  = NewUnauthorizedError("invalid credentials", ErrCodeInvalidCredentials)
	ErrInvalidToken        = NewUnauthorizedError("invalid or expired token", ErrCodeInvalidToken)
	ErrMissingToken        = NewUnauthorizedError("no authentication token provided", ErrCodeMissingToken)
)

// Permission management.
var (
	ErrResourceRequired    = NewValidationError("memoryId is required", ErrCodeResourceRequired)
	ErrGranteeRequired     = NewValidationError("userId is required", ErrCodeGranteeRequired)
	ErrPermissionsRequired = NewValidationError("permissions are required", ErrCodePermissionsRequired)
	ErrAssignerNotFound    = NewNotFoundError("assigning user not found", ErrCodeAssignerNotFound)
	ErrPermissionsNotFound = NewNotFoundError("permissions not found", ErrCodePermissionsNotFound)
	ErrSearchQueryRequired = NewValidationError("email query parameter is required", ErrCodeSearchQueryRequired)
	ErrInvalidRequestBody  = NewValidationError("invalid request body", ErrCodeInvalidBody)
)

// NewInvalidPermissionError reports a permission label outside the known set.
func NewInvalidPermissionError(label string) *AppError {
	return NewValidationError(fmt.Sprintf("invalid permission: %s", label), ErrCodeInvalidPermission)
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

