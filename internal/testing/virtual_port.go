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

package testing

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-lac1/internal/syncutil"
	"go.bug.st/serial"
)

// ErrPortClosed is returned when operations are attempted on a closed port
var ErrPortClosed = errors.New("port is closed")

// VirtualPort implements serial.Port on top of a VirtualLAC1, optionally
// through a JitteryConnection.
type VirtualPort struct {
	sim         *VirtualLAC1
	jitter      *JitteryConnection
	conn        io.ReadWriter
	readErr     error
	writeErr    error
	mode        serial.Mode
	readTimeout time.Duration
	writes      [][]byte
	flushes     int
	mu          syncutil.Mutex
	closed      bool
}

// NewVirtualPort creates a serial port backed by the wire simulator
func NewVirtualPort(sim *VirtualLAC1) *VirtualPort {
	return &VirtualPort{
		sim:         sim,
		conn:        sim,
		readTimeout: 10 * time.Millisecond,
	}
}

// NewJitteryVirtualPort creates a serial port backed by the wire simulator
// with USB-UART timing behaviour.
func NewJitteryVirtualPort(sim *VirtualLAC1, config JitterConfig) *VirtualPort {
	port := NewVirtualPort(sim)
	port.jitter = NewJitteryConnection(sim, config)
	port.conn = port.jitter
	return port
}

// Simulator returns the simulator behind the port
func (p *VirtualPort) Simulator() *VirtualLAC1 {
	return p.sim
}

func (p *VirtualPort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode != nil {
		p.mode = *mode
	}
	return nil
}

// Mode returns the last mode set on the port
func (p *VirtualPort) Mode() serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *VirtualPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	n, err := p.conn.Read(buf)
	if err != nil {
		return n, fmt.Errorf("virtual read: %w", err)
	}
	return n, nil
}

func (p *VirtualPort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), buf...))
	n, err := p.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("virtual write: %w", err)
	}
	return n, nil
}

func (*VirtualPort) Drain() error {
	return nil
}

// ResetInputBuffer discards unread reply bytes in the simulator and in the
// jitter buffer.
func (p *VirtualPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.sim.ClearOutput()
	if p.jitter != nil {
		p.jitter.ClearBuffer()
	}
	return nil
}

func (*VirtualPort) ResetOutputBuffer() error {
	return nil
}

func (*VirtualPort) SetDTR(_ bool) error {
	return nil
}

func (*VirtualPort) SetRTS(_ bool) error {
	return nil
}

func (*VirtualPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (p *VirtualPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// ReadTimeout returns the last read timeout set on the port
func (p *VirtualPort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

func (p *VirtualPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (*VirtualPort) Break(_ time.Duration) error {
	return nil
}

// SetReadError makes every read fail with err until cleared with nil
func (p *VirtualPort) SetReadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// SetWriteError makes every write fail with err until cleared with nil
func (p *VirtualPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Writes returns a copy of every buffer written to the port
func (p *VirtualPort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	for i, w := range p.writes {
		out[i] = string(w)
	}
	return out
}

// Flushes returns how many times the input buffer was reset
func (p *VirtualPort) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

// IsClosed reports whether Close was called
func (p *VirtualPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var _ serial.Port = (*VirtualPort)(nil)
