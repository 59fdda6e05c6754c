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
	"fmt"

	"github.com/ZaparooProject/go-lac1"
	"github.com/spf13/cobra"
)

var rawNoWait bool

var rawCmd = &cobra.Command{
	Use:   "raw TOKENS...",
	Short: "Send one command batch and print the reply lines",
	Long: `Send the tokens as a single command batch, bypassing homing and
unit conversion. A single token is sent verbatim; otherwise tokens are
command/argument pairs and an empty argument means none:

  lac1ctl raw TP
  lac1ctl raw SV 5000 GO ""`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRaw,
}

func init() {
	rawCmd.Flags().BoolVar(&rawNoWait, "no-wait", false, "Do not wait for the ready prompt")
	rootCmd.AddCommand(rawCmd)
}

func runRaw(cmd *cobra.Command, args []string) error {
	cmds, err := lac1.ParseTokens(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close()

	transport, err := newTransport(portName, baudRate, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", portName, err)
	}
	defer func() { _ = transport.Close() }()

	lines, err := transport.SendBatch(cmds, !rawNoWait)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
