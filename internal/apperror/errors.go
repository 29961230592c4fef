package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code surfaced to callers and stored on failed sessions.
type Code string

const (
	CodeUnsupportedFormat    Code = "UNSUPPORTED_FORMAT"
	CodeMalformedFile        Code = "MALFORMED_FILE"
	CodeImportInProgress     Code = "IMPORT_IN_PROGRESS"
	CodeAlreadyDecided       Code = "ALREADY_DECIDED"
	CodeRecordAlreadyMatched Code = "RECORD_ALREADY_MATCHED"
	CodeSessionNotReady      Code = "SESSION_NOT_READY"
	CodeSessionClosed        Code = "SESSION_CLOSED"
	CodeReviewIncomplete     Code = "REVIEW_INCOMPLETE"
	CodeInvalidReason        Code = "INVALID_REASON"
	CodeNotFound             Code = "NOT_FOUND"
	CodeValidation           Code = "VALIDATION_FAILED"
	CodeInternal             Code = "INTERNAL"
)

// Error carries a code, a human message, the wrapped cause and locating details
// such as row number or provider code.
type Error struct {
	Code    Code
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err is an *Error with the given code
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, or "" if err carries none
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// DetailsOf returns the details of the outermost *Error in err's chain.
func DetailsOf(err error) map[string]interface{} {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}

// HTTPStatus maps an error code to the status returned by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnsupportedFormat, CodeMalformedFile:
		return http.StatusUnprocessableEntity
	case CodeValidation, CodeInvalidReason:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeImportInProgress, CodeAlreadyDecided, CodeRecordAlreadyMatched,
		CodeSessionNotReady, CodeSessionClosed, CodeReviewIncomplete:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
