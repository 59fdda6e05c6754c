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
	"strconv"
	"strings"
	"time"
)

// TraceDirection tells which side sent a traced line
type TraceDirection string

const (
	// TraceTX is a line written to the LAC-1
	TraceTX TraceDirection = "TX"
	// TraceRX is a line read from the LAC-1
	TraceRX TraceDirection = "RX"
)

const (
	defaultTraceSize = 16
	maxTraceText     = 64
)

// TraceEntry is one line of a wire exchange
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) arrow() string {
	if e.Direction == TraceRX {
		return "<"
	}
	return ">"
}

// String formats the entry with its wall-clock time
func (e TraceEntry) String() string {
	s := fmt.Sprintf("[%s] %s %s", e.Timestamp.Format("15:04:05.000"), e.arrow(), quoteWire(e.Data))
	if e.Note != "" {
		s += " (" + e.Note + ")"
	}
	return s
}

// TraceableError carries the lines exchanged during the batch that failed.
// Retrieve it with GetTrace or errors.As:
//
//	if te := lac1.GetTrace(err); te != nil {
//	    log.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the exchange one line per entry, timed from the
// first entry.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] no lines exchanged", e.Transport, e.Port)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s:%s] %d lines exchanged:\n", e.Transport, e.Port, len(e.Trace))
	start := e.Trace[0].Timestamp
	for _, entry := range e.Trace {
		fmt.Fprintf(&sb, "  %+6dms %s %s", entry.Timestamp.Sub(start).Milliseconds(), entry.arrow(), quoteWire(entry.Data))
		if entry.Note != "" {
			fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// quoteWire quotes a line so CR and ESC stay visible, cutting long lines
func quoteWire(data []byte) string {
	switch {
	case len(data) == 0:
		return "-"
	case len(data) > maxTraceText:
		return fmt.Sprintf("%s... [%d bytes]", strconv.Quote(string(data[:maxTraceText])), len(data))
	default:
		return strconv.Quote(string(data))
	}
}

// TraceBuffer keeps the most recent lines of a transport in a ring.
// It is owned by one transport and not safe for concurrent use.
type TraceBuffer struct {
	transport string
	port      string
	ring      []TraceEntry
	head      int
	count     int
	now       func() time.Time
}

// NewTraceBuffer returns a buffer holding up to size entries
func NewTraceBuffer(transport, port string, size int) *TraceBuffer {
	if size <= 0 {
		size = defaultTraceSize
	}
	return &TraceBuffer{
		transport: transport,
		port:      port,
		ring:      make([]TraceEntry, size),
		now:       time.Now,
	}
}

// RecordTX records a written line
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.add(TraceTX, data, note)
}

// RecordRX records a received line
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.add(TraceRX, data, note)
}

// RecordTimeout marks the point where the reply stopped arriving
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.add(TraceRX, nil, "timeout: "+note)
}

func (tb *TraceBuffer) add(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Timestamp: tb.now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	tb.ring[(tb.head+tb.count)%len(tb.ring)] = entry
	if tb.count < len(tb.ring) {
		tb.count++
	} else {
		tb.head = (tb.head + 1) % len(tb.ring)
	}
}

// Entries returns the buffered entries, oldest first
func (tb *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, tb.count)
	for i := range tb.count {
		out[i] = tb.ring[(tb.head+i)%len(tb.ring)]
	}
	return out
}

// WrapError attaches a copy of the buffered lines to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Transport: tb.transport,
		Port:      tb.port,
		Trace:     tb.Entries(),
	}
}

// Clear drops all entries
func (tb *TraceBuffer) Clear() {
	clear(tb.ring)
	tb.head, tb.count = 0, 0
}

// Len returns the number of buffered entries
func (tb *TraceBuffer) Len() int {
	return tb.count
}

// GetTrace returns the trace attached to err, or nil
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
