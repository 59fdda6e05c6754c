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

package frame

import (
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-lac1"
)

// LineReader splits the LAC-1 reply stream into lines.
//
// The underlying reader is expected to return (0, nil) when its read timeout
// expires. Each such empty read is one tick; a line that has not completed
// within the tick budget fails with a timeout.
type LineReader struct {
	r io.Reader
	// OnLine, if set, sees every completed non-empty line, including the
	// prompt and error lines, before it is interpreted.
	OnLine       func(line string)
	port         string
	pending      []byte
	chunk        [chunkSize]byte
	maxTicks     int
	StopOnPrompt bool
}

// NewLineReader creates a reader that stops on the prompt and allows
// maxTicks empty reads per line.
func NewLineReader(r io.Reader, port string, maxTicks int) *LineReader {
	if maxTicks < 1 {
		maxTicks = 1
	}
	return &LineReader{
		r:            r,
		port:         port,
		maxTicks:     maxTicks,
		StopOnPrompt: true,
	}
}

// TickBudget returns the number of read timeouts that fit in budget,
// rounded up.
func TickBudget(budget, readTimeout time.Duration) int {
	if readTimeout <= 0 || budget <= 0 {
		return 1
	}
	ticks := int((budget + readTimeout - 1) / readTimeout)
	if ticks < 1 {
		return 1
	}
	return ticks
}

// SetMaxTicks changes the number of empty reads allowed per line.
func (lr *LineReader) SetMaxTicks(maxTicks int) {
	lr.maxTicks = max(1, maxTicks)
}

// Reset drops bytes read from the port but not yet consumed.
func (lr *LineReader) Reset() {
	lr.pending = lr.pending[:0]
}

// ReadLine returns the next line without its terminator. LF bytes are
// ignored and CR ends the line. With StopOnPrompt a prompt byte also ends
// the line and is kept in it, so the prompt on its own reads as ">".
// A line starting with the error marker is returned as a *lac1.DeviceError.
func (lr *LineReader) ReadLine() (string, error) {
	var line strings.Builder
	ticks := 0

	for {
		for len(lr.pending) > 0 {
			b := lr.pending[0]
			lr.pending = lr.pending[1:]

			switch {
			case b == LF:
				continue
			case b == CR:
				return lr.complete(line.String())
			}

			_ = line.WriteByte(b)
			if lr.StopOnPrompt && b == Prompt {
				return lr.complete(line.String())
			}
		}

		n, err := lr.r.Read(lr.chunk[:])
		if n > 0 {
			lr.pending = append(lr.pending, lr.chunk[:n]...)
		}
		if err != nil {
			return "", lac1.NewTransportReadError("read reply", lr.port, err)
		}
		if n == 0 {
			ticks++
			if ticks >= lr.maxTicks {
				return "", lac1.NewTimeoutError("read reply", lr.port)
			}
		}
	}
}

func (lr *LineReader) complete(line string) (string, error) {
	if line != "" && lr.OnLine != nil {
		lr.OnLine(line)
	}
	if line != "" && line[0] == ErrorMarker {
		return "", &lac1.DeviceError{Message: line[1:]}
	}
	return line, nil
}

// ReadReply reads lines until the prompt and returns the non-empty ones with
// the command echo removed.
func (lr *LineReader) ReadReply() ([]string, error) {
	var lines []string
	for {
		line, err := lr.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == PromptLine {
			return StripEcho(lines), nil
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
}

// StripEcho removes the echoed command from a reply. With more than one
// line the first is the echo. A lone line cannot be told apart from data and
// is returned as is.
func StripEcho(lines []string) []string {
	if len(lines) > 1 {
		return lines[1:]
	}
	return lines
}
