// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed errors shared across the gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrConfiguration is returned when a server definition or setting is incomplete
	ErrConfiguration = "configuration"

	// ErrConnectivity is returned when a backend session cannot be established
	ErrConnectivity = "connectivity"

	// ErrCredential is returned when no usable credential exists for a backend
	ErrCredential = "credential"

	// ErrNotFound is returned when a named resource does not exist
	ErrNotFound = "not_found"

	// ErrForbidden is returned when the caller may not perform the operation
	ErrForbidden = "forbidden"

	// ErrContainerRuntime is returned when there is an error with the container runtime
	ErrContainerRuntime = "container_runtime"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrConfiguration, message, cause)
}

// NewConnectivityError creates a new connectivity error
func NewConnectivityError(message string, cause error) *Error {
	return NewError(ErrConnectivity, message, cause)
}

// NewCredentialError creates a new credential error
func NewCredentialError(message string, cause error) *Error {
	return NewError(ErrCredential, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewContainerRuntimeError creates a new container runtime error
func NewContainerRuntimeError(message string, cause error) *Error {
	return NewError(ErrContainerRuntime, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return isType(err, ErrInvalidArgument)
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	return isType(err, ErrConfiguration)
}

// IsConnectivity checks if the error is a connectivity error
func IsConnectivity(err error) bool {
	return isType(err, ErrConnectivity)
}

// IsCredential checks if the error is a credential error
func IsCredential(err error) bool {
	return isType(err, ErrCredential)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return isType(err, ErrNotFound)
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return isType(err, ErrForbidden)
}

// IsContainerRuntime checks if the error is a container runtime error
func IsContainerRuntime(err error) bool {
	return isType(err, ErrContainerRuntime)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}

var typeCodes = map[string]int{
	ErrInvalidArgument:  http.StatusBadRequest,
	ErrConfiguration:    http.StatusBadRequest,
	ErrConnectivity:     http.StatusBadGateway,
	ErrCredential:       http.StatusUnauthorized,
	ErrNotFound:         http.StatusNotFound,
	ErrForbidden:        http.StatusForbidden,
	ErrContainerRuntime: http.StatusInternalServerError,
	ErrInternal:         http.StatusInternalServerError,
}

// Code returns the HTTP status for err. Typed errors map by kind; anything
// else defers to httperr, so sentinels wrapped with httperr.WithCode keep
// their status.
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if code, ok := typeCodes[e.Type]; ok {
			return code
		}
	}
	return httperr.Code(err)
}
