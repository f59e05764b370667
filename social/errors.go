package social

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ErrorKind string

const (
	// invalid or expired credentials. The user should sign in again.
	ErrorKindAuth ErrorKind = "AuthError"
	// write rejected by the backend rules
	ErrorKindPermission ErrorKind = "PermissionError"
	// transient. The caller may retry.
	ErrorKindNetwork ErrorKind = "NetworkError"
	// referenced document absent
	ErrorKindNotFound ErrorKind = "NotFoundError"
	// rejected before any remote call
	ErrorKindValidation ErrorKind = "ValidationError"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (self *Error) Error() string {
	if self.Err != nil {
		if self.Message == "" {
			return fmt.Sprintf("%s: %s", self.Kind, self.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", self.Kind, self.Message, self.Err)
	}
	return fmt.Sprintf("%s: %s", self.Kind, self.Message)
}

func (self *Error) Unwrap() error {
	return self.Err
}

// errors match by kind, so `errors.Is(err, ErrNotFound)` works for any not found error
func (self *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == self.Kind && (t.Message == "" || t.Message == self.Message)
	}
	return false
}

var ErrAuth = &Error{Kind: ErrorKindAuth}
var ErrPermission = &Error{Kind: ErrorKindPermission}
var ErrNetwork = &Error{Kind: ErrorKindNetwork}
var ErrNotFound = &Error{Kind: ErrorKindNotFound}
var ErrValidation = &Error{Kind: ErrorKindValidation}

func NewError(kind ErrorKind, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

func WrapError(kind ErrorKind, err error, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func NewAuthError(format string, a ...any) *Error {
	return NewError(ErrorKindAuth, format, a...)
}

func NewPermissionError(format string, a ...any) *Error {
	return NewError(ErrorKindPermission, format, a...)
}

func NewNetworkError(err error) *Error {
	return &Error{
		Kind: ErrorKindNetwork,
		Err:  err,
	}
}

func NewNotFoundError(format string, a ...any) *Error {
	return NewError(ErrorKindNotFound, format, a...)
}

func NewValidationError(format string, a ...any) *Error {
	return NewError(ErrorKindValidation, format, a...)
}

// errors that are not already classified are treated as network errors,
// since every remote call either succeeds, is rejected with a kind, or fails in transit
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var socialErr *Error
	if errors.As(err, &socialErr) {
		return socialErr.Kind
	}
	return ErrorKindNetwork
}

func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var socialErr *Error
	if errors.As(err, &socialErr) {
		return socialErr
	}
	return NewNetworkError(err)
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return KindOf(err) == ErrorKindNetwork
}

func ErrorKindForStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrorKindAuth
	case http.StatusForbidden:
		return ErrorKindPermission
	case http.StatusNotFound:
		return ErrorKindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return ErrorKindValidation
	default:
		return ErrorKindNetwork
	}
}

func StatusForErrorKind(kind ErrorKind) int {
	switch kind {
	case ErrorKindAuth:
		return http.StatusUnauthorized
	case ErrorKindPermission:
		return http.StatusForbidden
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
