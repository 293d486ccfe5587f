// internal/models/errors.go
package models

import (
	"errors"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "not_found"
	ErrCodeForbidden       ErrorCode = "forbidden"
	ErrCodeInvalidState    ErrorCode = "invalid_state"
	ErrCodeInvalidSchedule ErrorCode = "invalid_schedule"
	ErrCodeRoomFull        ErrorCode = "room_full"
	ErrCodeLateJoinDenied  ErrorCode = "late_join_denied"
	ErrCodeConflict        ErrorCode = "conflict"
)

// DomainError is the only error type handlers ever see from the room
// subsystem. Raw store errors never cross a service boundary.
type DomainError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewNotFound(message string) *DomainError {
	return &DomainError{Code: ErrCodeNotFound, Message: message}
}

func NewForbidden(message string) *DomainError {
	return &DomainError{Code: ErrCodeForbidden, Message: message}
}

func NewInvalidState(message string) *DomainError {
	return &DomainError{Code: ErrCodeInvalidState, Message: message}
}

func NewInvalidSchedule(message string) *DomainError {
	return &DomainError{Code: ErrCodeInvalidSchedule, Message: message}
}

func NewRoomFull(message string) *DomainError {
	return &DomainError{Code: ErrCodeRoomFull, Message: message}
}

func NewLateJoinDenied(message string) *DomainError {
	return &DomainError{Code: ErrCodeLateJoinDenied, Message: message}
}

func NewConflict(message string) *DomainError {
	return &DomainError{Code: ErrCodeConflict, Message: message}
}

// ErrorStatus maps a domain error to an HTTP status. Unclassified errors are
// treated as internal.
func ErrorStatus(err error) int {
	var derr *DomainError
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidState, ErrCodeInvalidSchedule:
		return http.StatusBadRequest
	case ErrCodeRoomFull, ErrCodeLateJoinDenied, ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
