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

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ZaparooProject/go-lac1"
	"github.com/ZaparooProject/go-lac1/transport/uart"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// Diagnostics
	debug      bool
	sessionDir string

	homingName string
)

// newTransport opens the link to the controller. Tests replace it with a
// simulator.
var newTransport = func(path string, baud int, logger *lac1.Logger) (lac1.Transport, error) {
	return uart.New(path, baud, uart.WithLogger(logger))
}

var errNoPort = errors.New("no serial port given, use --port")

var rootCmd = &cobra.Command{
	Use:   "lac1ctl",
	Short: "SMAC LAC-1 motion controller tool",
	Long: `lac1ctl drives a single SMAC LAC-1 axis over a serial port.

Commands home the stage, move it, report its position, run the
back-and-forth benchmark, open an interactive shell, show a live
position monitor, or pass raw command batches through unchanged.

  lac1ctl --port /dev/ttyUSB0 home
  lac1ctl --port /dev/ttyUSB0 move 12.5
  lac1ctl --port /dev/ttyUSB0 raw TP "" TK 1`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", lac1.DefaultBaudRate, "Baud rate")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-log", "",
		"Write a timestamped session log into this directory")
	rootCmd.PersistentFlags().StringVar(&homingName, "homing", "macro", "Homing strategy: macro or host")
}

// session holds what a command opened and has to release.
type session struct {
	logger *lac1.Logger
	log    *lac1.SessionLog
}

func openSession(stderr io.Writer) (*session, error) {
	if portName == "" {
		return nil, errNoPort
	}

	logger := lac1.NewLogger(debug || lac1.DebugFromEnv())
	logger.SetConsole(stderr)

	s := &session{logger: logger}
	if sessionDir != "" {
		sessionLog, err := lac1.OpenSessionLog(sessionDir)
		if err != nil {
			return nil, err
		}
		logger.SetSessionWriter(sessionLog)
		s.log = sessionLog
	}
	return s, nil
}

func (s *session) close() {
	if s.log != nil {
		_ = s.log.Close()
	}
}

// connectAxis opens the configured port and sets up an axis on it.
func connectAxis(cmd *cobra.Command) (*lac1.Axis, func(), error) {
	s, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}

	strategy, err := lac1.HomingStrategyByName(homingName)
	if err != nil {
		s.close()
		return nil, nil, err
	}

	factory := func(path string, baud int) (lac1.Transport, error) {
		return newTransport(path, baud, s.logger)
	}
	axis, err := lac1.ConnectAxis(portName, baudRate,
		lac1.WithTransportFactory(factory),
		lac1.WithAxisOptions(lac1.WithLogger(s.logger), lac1.WithHoming(strategy)))
	if err != nil {
		s.close()
		return nil, nil, err
	}

	return axis, func() {
		_ = axis.Close()
		s.close()
	}, nil
}

func execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
