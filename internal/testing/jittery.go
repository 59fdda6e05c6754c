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
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	// MaxLatencyMs adds up to this many milliseconds before every read
	MaxLatencyMs int
	// FragmentMinBytes is the smallest fragment returned when fragmenting
	FragmentMinBytes int
	// IdleReadPercent is the chance that a read returns nothing although
	// data is buffered, as a serial read timeout would
	IdleReadPercent int
	Seed            uint64
	FragmentReads   bool
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     2,
		FragmentReads:    true,
		FragmentMinBytes: 1,
		IdleReadPercent:  10,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate a USB-UART bridge
// (FTDI, CH340) with unpredictable latency, replies split across reads and
// reads that time out in the middle of a reply.
//
// Data read from the backend is buffered so fragmentation never loses bytes.
type JitteryConnection struct {
	backend io.ReadWriter
	rng     *rand.Rand
	readBuf []byte
	config  JitterConfig
	reads   int
}

// NewJitteryConnection wraps a backend io.ReadWriter with jitter simulation.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}

	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	config.IdleReadPercent = max(0, min(config.IdleReadPercent, 90))

	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rng,
		readBuf: make([]byte, 0, 256),
	}
}

// Write passes writes through to the backend without modification.
// Jitter only affects reads.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read reads from the backend with simulated jitter and fragmentation.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	j.reads++

	if j.config.MaxLatencyMs > 0 {
		delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.readBuf) == 0 {
		tempBuf := make([]byte, 256)
		bytesRead, err := j.backend.Read(tempBuf)
		if err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		if bytesRead == 0 {
			return 0, nil
		}
		j.readBuf = append(j.readBuf, tempBuf[:bytesRead]...)
	}

	if j.config.IdleReadPercent > 0 && j.rng.IntN(100) < j.config.IdleReadPercent {
		return 0, nil
	}

	toReturn := min(len(j.readBuf), len(buf))
	if j.config.FragmentReads && toReturn > j.config.FragmentMinBytes {
		minReturn := j.config.FragmentMinBytes
		toReturn = minReturn + j.rng.IntN(toReturn-minReturn+1)
	}

	copy(buf, j.readBuf[:toReturn])
	j.readBuf = j.readBuf[toReturn:]
	return toReturn, nil
}

// Buffered returns the number of bytes read from the backend but not yet
// delivered.
func (j *JitteryConnection) Buffered() int {
	return len(j.readBuf)
}

// Reads returns how many times Read was called.
func (j *JitteryConnection) Reads() int {
	return j.reads
}

// ClearBuffer clears any buffered read data.
func (j *JitteryConnection) ClearBuffer() {
	j.readBuf = j.readBuf[:0]
}
