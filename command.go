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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxLineLength is the longest command line the LAC-1 accepts, not counting
// the carriage return that terminates it.
const MaxLineLength = 127

// CommandSeparator joins the commands of a batch on the wire.
const CommandSeparator = ","

// Escape is the single-byte command that aborts a running macro.
const Escape = "\x1b"

// Command is a single LAC-1 instruction: a two letter mnemonic with an
// optional numeric argument, e.g. MA1000 or GO.
type Command struct {
	Mnemonic string
	Arg      float64
	HasArg   bool
}

// Cmd returns a command without an argument.
func Cmd(mnemonic string) Command {
	return Command{Mnemonic: mnemonic}
}

// CmdArg returns a command with a numeric argument. The LAC-1 only accepts
// integers so the argument is truncated toward zero when serialized.
func CmdArg(mnemonic string, arg float64) Command {
	return Command{Mnemonic: mnemonic, Arg: arg, HasArg: true}
}

// String returns the wire form of the command.
func (c Command) String() string {
	if !c.HasArg {
		return c.Mnemonic
	}
	return c.Mnemonic + strconv.FormatInt(int64(c.Arg), 10)
}

func (c Command) validate() error {
	if c.Mnemonic == "" {
		return fmt.Errorf("%w: empty mnemonic", ErrInvalidParameter)
	}
	if strings.ContainsAny(c.Mnemonic, "\r\n") {
		return fmt.Errorf("%w: mnemonic %q contains a line terminator", ErrInvalidParameter, c.Mnemonic)
	}
	if !c.HasArg {
		return nil
	}
	if math.IsNaN(c.Arg) || math.IsInf(c.Arg, 0) {
		return fmt.Errorf("%w: %s argument is not finite", ErrInvalidParameter, c.Mnemonic)
	}
	if c.Arg >= math.MaxInt64 || c.Arg <= math.MinInt64 {
		return fmt.Errorf("%w: %s argument %g out of range", ErrInvalidParameter, c.Mnemonic, c.Arg)
	}
	return nil
}

// EncodeBatch joins cmds into a single command line, without the trailing
// carriage return. Lines longer than MaxLineLength are rejected before
// anything reaches the device.
func EncodeBatch(cmds []Command) (string, error) {
	if len(cmds) == 0 {
		return "", fmt.Errorf("%w: empty command batch", ErrInvalidParameter)
	}

	parts := make([]string, len(cmds))
	for i, c := range cmds {
		if err := c.validate(); err != nil {
			return "", err
		}
		parts[i] = c.String()
	}

	line := strings.Join(parts, CommandSeparator)
	if len(line) > MaxLineLength {
		return "", fmt.Errorf("%w: %d bytes, limit is %d", ErrLineTooLong, len(line), MaxLineLength)
	}
	return line, nil
}

// ParseTokens converts command line tokens into a batch. A single token is
// sent verbatim. Otherwise tokens are read as command/argument pairs where an
// empty argument means the command takes none:
//
//	ParseTokens([]string{"SV", "5000", "GO", ""}) // SV5000,GO
func ParseTokens(tokens []string) ([]Command, error) {
	switch {
	case len(tokens) == 0:
		return nil, fmt.Errorf("%w: no commands given", ErrInvalidParameter)
	case len(tokens) == 1:
		return []Command{Cmd(tokens[0])}, nil
	case len(tokens)%2 != 0:
		return nil, fmt.Errorf("%w: expected command/argument pairs, got %d tokens",
			ErrInvalidParameter, len(tokens))
	}

	cmds := make([]Command, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		mnemonic, arg := tokens[i], tokens[i+1]
		if arg == "" {
			cmds = append(cmds, Cmd(mnemonic))
			continue
		}
		if v, err := strconv.ParseFloat(arg, 64); err == nil {
			cmds = append(cmds, CmdArg(mnemonic, v))
			continue
		}
		cmds = append(cmds, Cmd(mnemonic+arg))
	}
	return cmds, nil
}
