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

// Package uart implements the LAC-1 transport over a serial port.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-lac1"
	"github.com/ZaparooProject/go-lac1/internal/frame"
	"github.com/ZaparooProject/go-lac1/internal/syncutil"
	"go.bug.st/serial"
)

// traceSize is the number of wire entries kept for error reports
const traceSize = 32

// Transport implements the lac1.Transport interface for a serial port.
type Transport struct {
	port          serial.Port
	log           *lac1.Logger
	trace         *lac1.TraceBuffer
	reader        *frame.LineReader
	lastSend      time.Time
	now           func() time.Time
	sleep         func(time.Duration)
	portName      string
	readTimeout   time.Duration
	timeoutBudget time.Duration
	minInterval   time.Duration
	mu            syncutil.Mutex
	closed        bool
}

// Option configures a Transport
type Option func(*Transport)

// WithReadTimeout sets the per-read timeout of the serial port. One expired
// read is one tick of the reply budget.
func WithReadTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.readTimeout = timeout
		}
	}
}

// WithTimeoutBudget sets how long a single reply line may take to arrive.
func WithTimeoutBudget(budget time.Duration) Option {
	return func(t *Transport) {
		if budget > 0 {
			t.timeoutBudget = budget
		}
	}
}

// WithMinInterval sets the minimum time between a line sent without waiting
// and the next line.
func WithMinInterval(interval time.Duration) Option {
	return func(t *Transport) {
		if interval >= 0 {
			t.minInterval = interval
		}
	}
}

// WithLogger sets the logger used for wire traffic. A nil logger disables
// logging.
func WithLogger(logger *lac1.Logger) Option {
	return func(t *Transport) {
		t.log = logger
	}
}

// withClock replaces the time source and sleep function, for tests.
func withClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(t *Transport) {
		t.now = now
		t.sleep = sleep
	}
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// platformReadTimeout returns the default per-read timeout. Windows serial
// drivers return early reads unreliably below 20ms.
func platformReadTimeout() time.Duration {
	if isWindows() {
		return 20 * time.Millisecond
	}
	return lac1.DefaultReadTimeout
}

// New opens portName at baud, 8N1, and creates a transport on it.
func New(portName string, baud int, opts ...Option) (*Transport, error) {
	if baud <= 0 {
		baud = lac1.DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	t, err := NewWithPort(port, portName, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort creates a transport on an already open port.
func NewWithPort(port serial.Port, portName string, opts ...Option) (*Transport, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil serial port", lac1.ErrInvalidParameter)
	}

	t := &Transport{
		port:          port,
		portName:      portName,
		log:           lac1.NewLogger(lac1.DebugFromEnv()),
		trace:         lac1.NewTraceBuffer(string(lac1.TransportUART), portName, traceSize),
		now:           time.Now,
		sleep:         time.Sleep,
		readTimeout:   platformReadTimeout(),
		timeoutBudget: lac1.DefaultReplyTimeout,
		minInterval:   lac1.DefaultMinCommandInterval,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	t.reader = frame.NewLineReader(port, portName, frame.TickBudget(t.timeoutBudget, t.readTimeout))
	t.reader.OnLine = t.onLine
	return t, nil
}

// Factory returns a lac1.TransportFactory that opens serial ports with opts.
func Factory(opts ...Option) lac1.TransportFactory {
	return func(path string, baud int) (lac1.Transport, error) {
		return New(path, baud, opts...)
	}
}

// SendBatch sends cmds as one line and, if wait is set, reads the reply up
// to the ready prompt.
func (t *Transport) SendBatch(cmds []lac1.Command, wait bool) ([]string, error) {
	return t.SendBatchWithContext(context.Background(), cmds, wait)
}

// SendBatchWithContext is SendBatch with cancellation. The context is
// checked before the line is written and while pacing; once the line is on
// the wire the reply is always read to the prompt so the link stays in sync.
func (t *Transport) SendBatchWithContext(ctx context.Context, cmds []lac1.Command, wait bool) ([]string, error) {
	line, err := lac1.EncodeBatch(cmds)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // Context errors are returned as is
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, lac1.NewTransportClosedError("send batch", t.portName)
	}

	t.trace.Clear()

	// Pace first so a reply to the previous unwaited line is flushed
	if err := t.pace(ctx); err != nil {
		return nil, err
	}
	if err := t.flush(); err != nil {
		return nil, err
	}
	if err := t.writeLine(line); err != nil {
		return nil, t.trace.WrapError(err)
	}

	if !wait {
		t.lastSend = t.now()
		return nil, nil
	}

	lines, err := t.reader.ReadReply()
	if err != nil {
		var devErr *lac1.DeviceError
		if errors.As(err, &devErr) {
			devErr.Line = line
			t.log.Debugf("UART %s: device fault %q for %s", t.portName, devErr.Message, line)
		}
		if lac1.IsTransportTimeout(err) {
			t.trace.RecordTimeout(line)
		}
		return nil, t.trace.WrapError(err)
	}
	return lines, nil
}

// flush discards anything the device sent since the last exchange.
func (t *Transport) flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return lac1.NewTransportError("flush input", t.portName, err, lac1.ErrorTypeTransient)
	}
	t.reader.Reset()
	return nil
}

// pace keeps the minimum interval after a line sent without waiting.
func (t *Transport) pace(ctx context.Context) error {
	if t.lastSend.IsZero() || t.minInterval <= 0 {
		return nil
	}
	remaining := t.minInterval - t.now().Sub(t.lastSend)
	if remaining <= 0 {
		return nil
	}
	if ctx.Done() == nil {
		t.sleep(remaining)
		return nil
	}

	done := make(chan struct{})
	go func() {
		t.sleep(remaining)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // Context errors are returned as is
	}
}

func (t *Transport) writeLine(line string) error {
	data := []byte(line + string(frame.CR))
	n, err := t.port.Write(data)
	if err != nil {
		return lac1.NewTransportError("write line", t.portName,
			fmt.Errorf("%w: %w", lac1.ErrTransportWrite, err), lac1.ErrorTypeTransient)
	}
	if n != len(data) {
		return lac1.NewTransportWriteError("write line", t.portName)
	}
	if err := t.drainWithRetry("write line"); err != nil {
		return err
	}

	t.trace.RecordTX([]byte(line), "")
	t.log.Debugf("UART %s: sent %s", t.portName, line)
	return nil
}

func (t *Transport) onLine(line string) {
	t.trace.RecordRX([]byte(line), "")
	t.log.Debugf("UART %s: received %s", t.portName, line)
}

// SetTimeout sets the per-read timeout and rescales the reply tick budget
// so a line may still take the configured budget.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: read timeout must be positive", lac1.ErrInvalidParameter)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	t.readTimeout = timeout
	t.reader.SetMaxTicks(frame.TickBudget(t.timeoutBudget, timeout))
	return nil
}

// Close closes the transport connection. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Type returns the transport type
func (*Transport) Type() lac1.TransportType {
	return lac1.TransportUART
}

// PortName returns the serial port path
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			t.sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

var _ lac1.Transport = (*Transport)(nil)
