// go-lac1
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-lac1.
//
// go-lac1 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-lac1 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-lac1; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package lac1

import (
	"errors"
	"sync"
	"time"
)

// Transport defines the interface for exchanging command lines with a LAC-1.
//
// Implementations own the byte stream exclusively: one batch is in flight at
// a time and nothing reads the link between calls.
type Transport interface {
	// SendBatch serializes cmds into one line and transmits it. When wait is
	// true it blocks until the ready prompt and returns the reply lines with
	// the command echo removed. When wait is false it returns nil lines as
	// soon as the line is written.
	SendBatch(cmds []Command, wait bool) ([]string, error)

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the per-read timeout of the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents a serial port transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// SentBatch records one SendBatch call made on a MockTransport
type SentBatch struct {
	Line string
	Wait bool
}

// MockTransport provides a scripted implementation of Transport for testing.
// Replies are keyed by the serialized command line.
type MockTransport struct {
	replies   map[string][]string
	queued    map[string][][]string
	errorMap  map[string]error
	callCount map[string]int
	sent      []SentBatch
	timeout   time.Duration
	delay     time.Duration
	mu        sync.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   DefaultReadTimeout,
		replies:   make(map[string][]string),
		queued:    make(map[string][][]string),
		callCount: make(map[string]int),
		errorMap:  make(map[string]error),
	}
}

// SendBatch implements Transport interface
func (m *MockTransport) SendBatch(cmds []Command, wait bool) ([]string, error) {
	line, err := EncodeBatch(cmds)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return nil, errors.New("transport not connected")
	}

	// Simulate device processing time if configured
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount[line]++
	m.sent = append(m.sent, SentBatch{Line: line, Wait: wait})

	if err, exists := m.errorMap[line]; exists {
		return nil, err
	}

	if !wait {
		return nil, nil
	}

	if queue := m.queued[line]; len(queue) > 0 {
		m.queued[line] = queue[1:]
		return append([]string(nil), queue[0]...), nil
	}

	if reply, exists := m.replies[line]; exists {
		return append([]string(nil), reply...), nil
	}

	// The device answers most commands with the prompt only
	return nil, nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetReply configures the reply lines returned for a command line
func (m *MockTransport) SetReply(line string, reply ...string) {
	m.mu.Lock()
	m.replies[line] = reply
	m.mu.Unlock()
}

// QueueReply adds a one-shot reply for a command line. Queued replies are
// used in order before falling back to the SetReply value.
func (m *MockTransport) QueueReply(line string, reply ...string) {
	m.mu.Lock()
	m.queued[line] = append(m.queued[line], reply)
	m.mu.Unlock()
}

// SetError configures an error to be returned for a command line
func (m *MockTransport) SetError(line string, err error) {
	m.mu.Lock()
	m.errorMap[line] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command line
func (m *MockTransport) ClearError(line string) {
	m.mu.Lock()
	delete(m.errorMap, line)
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate device processing time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// GetCallCount returns how many times a command line was sent
func (m *MockTransport) GetCallCount(line string) int {
	m.mu.RLock()
	count := m.callCount[line]
	m.mu.RUnlock()
	return count
}

// Sent returns every batch sent so far, in order
func (m *MockTransport) Sent() []SentBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SentBatch(nil), m.sent...)
}

// SentLines returns the command lines sent so far, in order
func (m *MockTransport) SentLines() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := make([]string, len(m.sent))
	for i, s := range m.sent {
		lines[i] = s.Line
	}
	return lines
}

// Reset clears all call counts and resets state
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[string]int)
	m.sent = nil
	m.connected = true
	m.mu.Unlock()
}
