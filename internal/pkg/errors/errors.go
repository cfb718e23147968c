// Package errors provides coded errors for gifmill.
// Codes drive both the HTTP status of API responses and how much of a
// failed task's message is shown to clients.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code represents an error code for categorization.
type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeNotFound        Code = "NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeResourceExhaust Code = "RESOURCE_EXHAUSTED"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// Media pipeline codes.
	CodeFetchFailed      Code = "FETCH_FAILED"
	CodeQueueUnavailable Code = "QUEUE_UNAVAILABLE"
	CodeProcessing       Code = "PROCESSING_FAILED"
	CodeOutputInvalid    Code = "OUTPUT_INVALID"
)

// FetchFailedMessage is the only message clients see for remote download problems.
const FetchFailedMessage = "Download failed. Please check the URL and try again."

// Error is a custom error type with additional context.
type Error struct {
	// Code is the error code for categorization.
	Code Code
	// Message is the human-readable error message.
	Message string
	// Op is the operation that failed (e.g., "fetcher.download").
	Op string
	// Err is the underlying error.
	Err error
	// Fields contains additional context fields.
	Fields map[string]any
	// Stack contains the stack trace at error creation.
	Stack []Frame
}

// Frame represents a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField adds a field to the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the error.
func (e *Error) WithFields(fields map[string]any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeBadRequest, CodeFetchFailed:
		return 400
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodePayloadTooLarge:
		return 413
	case CodeResourceExhaust:
		return 429
	case CodeUnavailable, CodeQueueUnavailable:
		return 503
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// Public reports whether the message can be shown to API clients verbatim.
func (e *Error) Public() bool {
	switch e.Code {
	case CodeValidation, CodeBadRequest, CodeFetchFailed, CodeNotFound,
		CodeForbidden, CodePayloadTooLarge, CodeResourceExhaust, CodeQueueUnavailable:
		return true
	}
	return false
}

// StackTrace returns the stack trace as a formatted string.
func (e *Error) StackTrace() string {
	if len(e.Stack) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// New creates a new error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error, keeping its code when it already has one.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Code:    e.Code,
			Message: message,
			Op:      op,
			Err:     err,
			Fields:  e.Fields,
			Stack:   captureStack(2),
		}
	}

	return &Error{
		Code:    CodeInternal,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, op string, format string, args ...any) *Error {
	return Wrap(err, op, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// NotFound creates a not found error.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// ValidationField creates a validation error for a specific field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// Timeout marks an operation that ran past its deadline. cause may be nil.
func Timeout(op string, cause error) *Error {
	return &Error{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", op),
		Op:      op,
		Err:     cause,
		Fields:  map[string]any{"operation": op},
		Stack:   captureStack(2),
	}
}

// Unavailable marks a backing service that could not be reached.
func Unavailable(service string, cause error) *Error {
	return &Error{
		Code:    CodeUnavailable,
		Message: fmt.Sprintf("service unavailable: %s", service),
		Err:     cause,
		Fields:  map[string]any{"service": service},
		Stack:   captureStack(2),
	}
}

// FetchFailed hides the cause of a remote download failure behind the
// generic download message. The cause stays reachable through Unwrap.
func FetchFailed(op string, cause error) *Error {
	return &Error{
		Code:    CodeFetchFailed,
		Message: FetchFailedMessage,
		Op:      op,
		Err:     cause,
		Stack:   captureStack(2),
	}
}

// QueueUnavailable marks a publish failure against the broker.
func QueueUnavailable(cause error) *Error {
	return &Error{
		Code:    CodeQueueUnavailable,
		Message: "Background queue is currently unavailable. Please retry shortly.",
		Op:      "queue.publish",
		Err:     cause,
		Stack:   captureStack(2),
	}
}

// Processing creates a tool/processing failure.
func Processing(op string, message string, cause error) *Error {
	return &Error{
		Code:    CodeProcessing,
		Message: message,
		Op:      op,
		Err:     cause,
		Stack:   captureStack(2),
	}
}

// PayloadTooLarge reports a request body over the configured limit.
func PayloadTooLarge(limit int64) *Error {
	return Newf(CodePayloadTooLarge, "request body exceeds %d bytes", limit).WithField("limit", limit)
}

// RateLimited reports a client over its request budget.
func RateLimited() *Error {
	return New(CodeResourceExhaust, "Rate limit exceeded. Please try again later.")
}

// OutputInvalid reports a missing or undersized artifact.
func OutputInvalid(path string) *Error {
	return New(CodeOutputInvalid, "produced output invalid").WithField("path", path)
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus extracts the HTTP status from an error.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}

// GetFields extracts fields from an error.
func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && e.Fields != nil {
		return e.Fields
	}
	return nil
}

// UserMessage returns the message that may be shown to a client: the
// outermost coded message for public codes, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Public() {
		return e.Message
	}
	return fallback
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, Frame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})

		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
