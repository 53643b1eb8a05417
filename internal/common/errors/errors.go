package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	// 400 errors
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrInvalidPath          ErrorCode = "INVALID_PATH"
	ErrUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// 404 errors
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrOperationNotFound ErrorCode = "OPERATION_NOT_FOUND"

	// 409 errors
	ErrConflict     ErrorCode = "CONFLICT"
	ErrInvalidState ErrorCode = "INVALID_STATE"
	ErrTargetExists ErrorCode = "TARGET_EXISTS"

	// 500 errors
	ErrInternal       ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavail ErrorCode = "SERVICE_UNAVAIL"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Details:    make(map[string]interface{}),
	}
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	e.Details[key] = value
	return e
}

// Is reports whether err carries the given code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatusOf maps an error to the status code handlers should answer with
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error body. Errors that are not an
// AppError are reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = InternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": appErr,
	})
}

// Common error constructors
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict)
}

func InvalidRequest(message string) *AppError {
	return NewAppError(ErrInvalidRequest, message, http.StatusBadRequest)
}

func InvalidPath(path string) *AppError {
	return NewAppError(ErrInvalidPath, "Invalid path", http.StatusBadRequest).
		WithDetails("path", path)
}

func UnsupportedOperation(opType string) *AppError {
	return NewAppError(ErrUnsupportedOperation, "Unsupported operation type", http.StatusBadRequest).
		WithDetails("type", opType)
}

func OperationNotFound(id string) *AppError {
	return NewAppError(ErrOperationNotFound, "Operation not found", http.StatusNotFound).
		WithDetails("id", id)
}

func InvalidState(id, status, action string) *AppError {
	return NewAppError(ErrInvalidState, fmt.Sprintf("Cannot %s an operation in status %s", action, status), http.StatusConflict).
		WithDetails("id", id).
		WithDetails("status", status).
		WithDetails("action", action)
}

func TargetExists(path string) *AppError {
	return NewAppError(ErrTargetExists, "Target already exists", http.StatusConflict).
		WithDetails("path", path)
}

func InternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError)
}

func ServiceUnavailable(message string) *AppError {
	return NewAppError(ErrServiceUnavail, message, http.StatusServiceUnavailable)
}
