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
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// SessionLog is a debug log file for one program run. Attach it to a
// Logger with SetSessionWriter.
type SessionLog struct {
	file   *os.File
	path   string
	closed bool
}

// OpenSessionLog creates lac1_<timestamp>.log in dir (the current directory
// when dir is empty) and writes the session header.
func OpenSessionLog(dir string) (*SessionLog, error) {
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("lac1_%s.log", timestamp))

	logFile, err := os.Create(path) //nolint:gosec // filename is constructed internally, not user input
	if err != nil {
		return nil, fmt.Errorf("failed to create session log: %w", err)
	}

	writeSessionHeader(logFile)

	return &SessionLog{file: logFile, path: path}, nil
}

// Path returns the log file path for display to the user.
func (s *SessionLog) Path() string {
	return s.path
}

// Write implements io.Writer.
func (s *SessionLog) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	n, err := s.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("session log write failed: %w", err)
	}
	return n, nil
}

// Close writes the session footer and closes the file.
func (s *SessionLog) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	timestamp := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(s.file, "\n%s === Session ended ===\n", timestamp)

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// writeSessionHeader writes metadata about the session to the log file.
func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== LAC-1 Debug Session Log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "================================\n\n")
}
