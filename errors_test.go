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
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "timeout", err: NewTimeoutError("read", "/dev/ttyS0"), expected: true},
		{name: "bare timeout sentinel", err: ErrTransportTimeout, expected: true},
		{name: "malformed reply", err: NewMalformedReplyError("TP", "1x"), expected: true},
		{name: "transient read", err: NewTransportReadError("read", "p", errors.New("glitch")), expected: true},
		{name: "read on vanished adapter", err: NewTransportReadError("read", "p", syscall.ENXIO), expected: false},
		{name: "closed transport", err: NewTransportClosedError("send", "p"), expected: false},
		{name: "device fault", err: &DeviceError{Message: "41"}, expected: false},
		{name: "wrapped device fault", err: fmt.Errorf("move: %w", &DeviceError{Message: "41"}), expected: false},
		{name: "line too long", err: ErrLineTooLong, expected: false},
		{name: "out of travel", err: fmt.Errorf("%w: 26 mm", ErrOutOfTravel), expected: false},
		{name: "unrelated", err: errors.New("boom"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "EOF", err: io.EOF, expected: true},
		{name: "closed pipe", err: fmt.Errorf("read: %w", io.ErrClosedPipe), expected: true},
		{name: "closed transport", err: ErrTransportClosed, expected: true},
		{name: "ENODEV", err: syscall.ENODEV, expected: true},
		{name: "EIO", err: fmt.Errorf("read: %w", syscall.EIO), expected: true},
		{name: "EAGAIN", err: syscall.EAGAIN, expected: false},
		{name: "timeout", err: NewTimeoutError("read", "p"), expected: false},
		{name: "permanent transport error", err: NewTransportError("x", "p", errors.New("y"), ErrorTypePermanent), expected: true},
		{name: "device fault", err: &DeviceError{Message: "1"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestErrorKindsAreDistinguishable(t *testing.T) {
	t.Parallel()

	timeout := fmt.Errorf("position query failed: %w", NewTimeoutError("read reply", "/dev/ttyS0"))
	fault := fmt.Errorf("absolute move failed: %w", &DeviceError{Message: "41", Line: "PM,MN,MA1000,GO"})
	precondition := fmt.Errorf("%w: 30 mm not in [0, 25] mm", ErrOutOfTravel)

	assert.True(t, IsTransportTimeout(timeout))
	assert.False(t, IsDeviceFault(timeout))
	assert.False(t, IsPrecondition(timeout))

	assert.False(t, IsTransportTimeout(fault))
	assert.True(t, IsDeviceFault(fault))
	assert.False(t, IsPrecondition(fault))

	assert.False(t, IsTransportTimeout(precondition))
	assert.False(t, IsDeviceFault(precondition))
	assert.True(t, IsPrecondition(precondition))

	for _, err := range []error{ErrInvalidParameter, ErrLineTooLong, ErrOutOfTravel} {
		require.ErrorIs(t, err, ErrPrecondition)
	}
}

func TestDeviceError(t *testing.T) {
	t.Parallel()

	err := &DeviceError{Message: "41", Line: "MA99999"}
	assert.Equal(t, `LAC-1 error 41 (sent "MA99999")`, err.Error())
	code, ok := err.Code()
	assert.True(t, ok)
	assert.Equal(t, 41, code)

	text := &DeviceError{Message: "ARGUMENT ERROR"}
	assert.Equal(t, "LAC-1 error ARGUMENT ERROR", text.Error())
	_, ok = text.Code()
	assert.False(t, ok)
}

func TestTransportError_Error(t *testing.T) {
	t.Parallel()

	withPort := NewTimeoutError("read reply", "/dev/ttyUSB0")
	assert.Equal(t, "read reply /dev/ttyUSB0: transport timeout", withPort.Error())
	assert.Equal(t, ErrorTypeTimeout, withPort.Type)
	assert.True(t, withPort.Retryable)

	noPort := NewMalformedReplyError("TP", "abc")
	assert.Equal(t, `TP: malformed reply: "abc"`, noPort.Error())
	require.ErrorIs(t, noPort, ErrMalformedReply)
}

func TestNewTransportReadError(t *testing.T) {
	t.Parallel()

	cause := errors.New("framing error")
	err := NewTransportReadError("read reply", "p", cause)

	require.ErrorIs(t, err, ErrTransportRead)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrorTypeTransient, err.Type)

	gone := NewTransportReadError("read reply", "p", io.EOF)
	assert.Equal(t, ErrorTypePermanent, gone.Type)
	assert.False(t, gone.Retryable)
}
