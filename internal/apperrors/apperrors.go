// Package apperrors defines the coded errors returned by the workflow services.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/joescharf/scrum/internal/store"
)

// Code is a machine-readable error code.
type Code string

const (
	CodePermissionDenied     Code = "permission_denied"
	CodeSprintExpired        Code = "sprint_expired"
	CodeWrongState           Code = "wrong_state"
	CodeLowerPriority        Code = "lower_priority"
	CodeNotFound             Code = "not_found"
	CodeDuplicateMembership  Code = "duplicate_membership"
	CodeMembershipNotFound   Code = "membership_not_found"
	CodeValidation           Code = "validation"
	CodeConflict             Code = "conflict"
	CodeNotificationDelivery Code = "notification_delivery"
	CodeInternal             Code = "internal"
)

// Sentinels for errors.Is. They compare by code only.
var (
	ErrPermissionDenied     = &Error{Code: CodePermissionDenied}
	ErrSprintExpired        = &Error{Code: CodeSprintExpired}
	ErrWrongState           = &Error{Code: CodeWrongState}
	ErrLowerPriority        = &Error{Code: CodeLowerPriority}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrDuplicateMembership  = &Error{Code: CodeDuplicateMembership}
	ErrMembershipNotFound   = &Error{Code: CodeMembershipNotFound}
	ErrValidation           = &Error{Code: CodeValidation}
	ErrConflict             = &Error{Code: CodeConflict}
	ErrNotificationDelivery = &Error{Code: CodeNotificationDelivery}
)

var statusByCode = map[Code]int{
	CodePermissionDenied:     http.StatusForbidden,
	CodeSprintExpired:        http.StatusConflict,
	CodeWrongState:           http.StatusConflict,
	CodeLowerPriority:        http.StatusConflict,
	CodeNotFound:             http.StatusNotFound,
	CodeDuplicateMembership:  http.StatusConflict,
	CodeMembershipNotFound:   http.StatusUnprocessableEntity,
	CodeValidation:           http.StatusBadRequest,
	CodeConflict:             http.StatusConflict,
	CodeNotificationDelivery: http.StatusBadGateway,
	CodeInternal:             http.StatusInternalServerError,
}

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status for the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that carries err.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// PermissionDenied reports that actor lacks every one of kinds.
func PermissionDenied(actorID string, kinds ...any) *Error {
	return New(CodePermissionDenied, "user %s lacks permission %v", actorID, kinds)
}

// FromStore translates store sentinels into coded errors. Other errors become internal.
func FromStore(err error, msg string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Wrap(CodeNotFound, err, msg+": "+err.Error())
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
		return Wrap(CodeConflict, err, msg+": "+err.Error())
	default:
		return Wrap(CodeInternal, err, msg+": "+err.Error())
	}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
