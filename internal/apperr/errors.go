// Package apperr carries the caller-facing error taxonomy. Codes reuse the gRPC
// code set so the same values can back an RPC surface later.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
)

// Error is a classified error safe to show to API callers. The wrapped cause is
// for logs only.
type Error struct {
	Code    codes.Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New returns a classified error.
func New(code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf returns a classified error with a formatted message.
func Newf(code codes.Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under code with a public message.
func Wrap(cause error, code codes.Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func InvalidArgument(message string) *Error    { return New(codes.InvalidArgument, message) }
func Unauthenticated(message string) *Error    { return New(codes.Unauthenticated, message) }
func PermissionDenied(message string) *Error   { return New(codes.PermissionDenied, message) }
func NotFound(message string) *Error           { return New(codes.NotFound, message) }
func FailedPrecondition(message string) *Error { return New(codes.FailedPrecondition, message) }

func Unavailable(cause error, message string) *Error {
	return Wrap(cause, codes.Unavailable, message)
}

func Internal(cause error) *Error {
	return Wrap(cause, codes.Internal, "internal error")
}

// CodeOf extracts the classification of err. Unclassified errors are Internal.
func CodeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return codes.Internal
}

// Is reports whether err carries the given code.
func Is(err error, code codes.Code) bool {
	return err != nil && CodeOf(err) == code
}

// PublicMessage returns the message that may be returned to callers.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps a code to the response status.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Slug is the stable machine-readable code used in JSON responses.
func Slug(code codes.Code) string {
	switch code {
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.Unauthenticated:
		return "UNAUTHENTICATED"
	case codes.PermissionDenied:
		return "PERMISSION_DENIED"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.FailedPrecondition:
		return "FAILED_PRECONDITION"
	case codes.Unavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
