// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lac1

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// Error categories for error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")
	ErrMalformedReply   = errors.New("malformed reply")

	// Precondition errors - raised before anything is transmitted, never retryable
	ErrPrecondition     = errors.New("precondition violated")
	ErrInvalidParameter = fmt.Errorf("%w: invalid parameter", ErrPrecondition)
	ErrLineTooLong      = fmt.Errorf("%w: command line too long", ErrPrecondition)
	ErrOutOfTravel      = fmt.Errorf("%w: target outside stage travel", ErrPrecondition)

	// ErrHomingFailed is returned when host-driven homing never reaches the limit
	ErrHomingFailed = errors.New("homing failed")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Port or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeviceError is a fault reported by the LAC-1 itself, i.e. a reply line
// starting with the error marker. Message is the device's diagnostic text
// with the marker removed.
type DeviceError struct {
	Message string
	Line    string // command line being executed, if known
}

func (e *DeviceError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("LAC-1 error %s (sent %q)", e.Message, e.Line)
	}
	return "LAC-1 error " + e.Message
}

// Code returns the numeric error code when the message is one.
func (e *DeviceError) Code() (int, bool) {
	code, err := strconv.Atoi(strings.TrimSpace(e.Message))
	if err != nil {
		return 0, false
	}
	return code, true
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Device faults and precondition errors are final whatever wraps them
	var de *DeviceError
	if errors.As(err, &de) || errors.Is(err, ErrPrecondition) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrMalformedReply):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the link is gone and the
// axis has to be reconstructed. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// IsTransportTimeout reports whether no reply arrived within the read budget.
func IsTransportTimeout(err error) bool {
	return errors.Is(err, ErrTransportTimeout)
}

// IsDeviceFault reports whether the LAC-1 answered with an error line.
func IsDeviceFault(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// IsPrecondition reports whether the call was rejected locally before
// anything was transmitted.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating that a USB serial
// adapter was unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportReadError wraps a failed port read. Errors showing the adapter
// is gone are permanent, anything else is transient.
func NewTransportReadError(op, port string, cause error) *TransportError {
	errType := ErrorTypeTransient
	if IsFatal(cause) {
		errType = ErrorTypePermanent
	}
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportRead, cause), errType)
}

// NewTransportClosedError is returned for calls made after Close
func NewTransportClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// NewMalformedReplyError creates an error for replies that could not be parsed (transient)
func NewMalformedReplyError(op, reply string) *TransportError {
	return NewTransportError(op, "", fmt.Errorf("%w: %q", ErrMalformedReply, reply), ErrorTypeTransient)
}
