// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-net.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrClosed           = errors.New("channel is closed")
	ErrRegistryClosed   = errors.New("event registry is closed")
	ErrNotEstablished   = errors.New("tls session is not established")
	ErrNotConnected     = errors.New("channel is not connected")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrNotSupported     = errors.New("operation not supported")
	ErrAlreadyExists    = errors.New("resource already exists")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NetworkError is an OS level socket failure. Code carries the numeric errno.
type NetworkError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: [%d] %s", e.Op, e.Code, e.Message)
}

// Unwrap exposes the underlying errno so errors.Is works against syscall values.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps err as a NetworkError for operation op.
// A nil err yields nil.
func NewNetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &NetworkError{Op: op, Code: int(errno), Message: errno.Error(), Err: errno}
	}
	return &NetworkError{Op: op, Code: -1, Message: err.Error(), Err: err}
}
