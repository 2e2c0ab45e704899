package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Mailbox authentication
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeChallengeRequired  = "AUTH_CHALLENGE_REQUIRED"
	CodeAuthTimeout        = "AUTH_TIMEOUT"

	// Message and attachment retrieval
	CodeFetchNotFound = "FETCH_NOT_FOUND"
	CodeFetchTimeout  = "FETCH_TIMEOUT"
	CodeFetchNetwork  = "FETCH_NETWORK"

	CodeExtractionFailed = "EXTRACTION_FAILED"

	// Session control
	CodeSessionConflict     = "SESSION_CONFLICT"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionInvalidState = "SESSION_INVALID_STATE"

	// Validation errors
	CodeInvalidInput = "INVALID_INPUT"

	// External errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func InvalidCredentials(account string) *AppError {
	return &AppError{
		Code:    CodeInvalidCredentials,
		Message: "mailbox rejected the credentials",
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"account": account},
	}
}

func ChallengeRequired(kind string) *AppError {
	return &AppError{
		Code:    CodeChallengeRequired,
		Message: fmt.Sprintf("login requires interactive challenge: %s", kind),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"challenge": kind},
	}
}

func AuthTimeout(err error) *AppError {
	return &AppError{
		Code:    CodeAuthTimeout,
		Message: "login did not complete in time",
		Status:  http.StatusGatewayTimeout,
		Err:     err,
	}
}

// Fetch errors
func FetchNotFound(id string) *AppError {
	return &AppError{
		Code:    CodeFetchNotFound,
		Message: fmt.Sprintf("message %s did not render", id),
		Status:  http.StatusNotFound,
		Details: map[string]any{"id": id},
	}
}

func FetchTimeout(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeFetchTimeout,
		Message: fmt.Sprintf("fetch timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
		Err:     err,
	}
}

func FetchNetwork(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeFetchNetwork,
		Message: fmt.Sprintf("network error: %s", operation),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func ExtractionFailed(filename string, err error) *AppError {
	return &AppError{
		Code:    CodeExtractionFailed,
		Message: fmt.Sprintf("could not extract text from %s", filename),
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}

// Session errors
func SessionConflict(activeID string) *AppError {
	return &AppError{
		Code:    CodeSessionConflict,
		Message: "an extraction session is already running",
		Status:  http.StatusConflict,
		Details: map[string]any{"active_session_id": activeID},
	}
}

func SessionNotFound(id string) *AppError {
	return &AppError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session %s not found", id),
		Status:  http.StatusNotFound,
	}
}

func SessionInvalidState(op, status string) *AppError {
	return &AppError{
		Code:    CodeSessionInvalidState,
		Message: fmt.Sprintf("cannot %s a session that is %s", op, status),
		Status:  http.StatusConflict,
		Details: map[string]any{"status": status},
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsAuthError reports whether err is fatal to a mailbox session.
func IsAuthError(err error) bool {
	return IsCode(err, CodeInvalidCredentials) ||
		IsCode(err, CodeChallengeRequired) ||
		IsCode(err, CodeAuthTimeout)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
