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
	"fmt"
	"io"
	"os"
	"time"
)

// Logger writes driver debug output for one axis or transport.
// Every message goes to the session writer (if set) with a timestamp; the
// console only receives messages while debug output is enabled.
//
// A nil *Logger discards everything.
type Logger struct {
	console io.Writer
	session io.Writer
	enabled bool
}

// NewLogger creates a logger printing to stdout when enabled.
func NewLogger(enabled bool) *Logger {
	return &Logger{
		console: os.Stdout,
		enabled: enabled,
	}
}

// DebugFromEnv reports whether LAC1_DEBUG or DEBUG is set.
func DebugFromEnv() bool {
	return os.Getenv("LAC1_DEBUG") != "" || os.Getenv("DEBUG") != ""
}

// SetEnabled turns console output on or off.
func (l *Logger) SetEnabled(enabled bool) {
	if l != nil {
		l.enabled = enabled
	}
}

// Enabled reports whether console output is on.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// SetConsole replaces the console writer.
func (l *Logger) SetConsole(w io.Writer) {
	if l != nil {
		l.console = w
	}
}

// SetSessionWriter attaches a session log. Pass nil to detach.
func (l *Logger) SetSessionWriter(w io.Writer) {
	if l != nil {
		l.session = w
	}
}

// Debugf prints debug information.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
func (l *Logger) Debugln(args ...any) {
	if l == nil {
		return
	}
	l.write(fmt.Sprint(args...))
}

func (l *Logger) write(message string) {
	if l.session != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(l.session, "%s DEBUG: %s\n", timestamp, message)
	}

	if l.enabled && l.console != nil {
		_, _ = fmt.Fprintf(l.console, "DEBUG: %s\n", message)
	}
}
