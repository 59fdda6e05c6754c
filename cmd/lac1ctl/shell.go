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
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-lac1"
	"github.com/abiosoft/ishell"
	"github.com/spf13/cobra"
)

const shellPrompt = "lac1> "

// shellCommand is one command of the interactive shell
type shellCommand struct {
	run     func(axis *lac1.Axis, args []string) (string, error)
	name    string
	help    string
	aliases []string
}

var shellCommands = []shellCommand{
	{name: "pos", aliases: []string{"p"}, help: "print the position", run: shellPosition},
	{name: "move", aliases: []string{"ma"}, help: "MM  move to an absolute position", run: shellMove},
	{name: "rel", aliases: []string{"mr"}, help: "MM  move by a distance", run: shellRelative},
	{name: "home", help: "home the axis", run: func(axis *lac1.Axis, _ []string) (string, error) {
		if err := axis.Home(); err != nil {
			return "", err
		}
		return shellPosition(axis, nil)
	}},
	{name: "vel", help: "MM/S  set the maximum velocity", run: shellFloat(func(a *lac1.Axis, v float64) error {
		return a.SetMaxVelocity(v)
	})},
	{name: "acc", help: "MM/S²  set the maximum acceleration", run: shellFloat(func(a *lac1.Axis, v float64) error {
		return a.SetMaxAcceleration(v)
	})},
	{name: "torque", help: "RAW  set the maximum torque", run: shellFloat(func(a *lac1.Axis, v float64) error {
		return a.SetMaxTorque(int(v))
	})},
	{name: "params", help: "[SET]  print servo parameters", run: shellParams},
	{name: "stop", help: "stop motion", run: shellSimple((*lac1.Axis).Stop)},
	{name: "abort", help: "abort motion", run: shellSimple((*lac1.Axis).Abort)},
	{name: "on", help: "motor on", run: shellSimple((*lac1.Axis).MotorOn)},
	{name: "off", help: "motor off", run: shellSimple((*lac1.Axis).MotorOff)},
	{name: "error", help: "print the last device error", run: func(axis *lac1.Axis, _ []string) (string, error) {
		return axis.LastError()
	}},
	{name: "raw", aliases: []string{"r"}, help: "TOKENS...  send a command batch", run: shellRaw},
}

var shellCmd = &cobra.Command{
	Use:   "shell [COMMAND ARGS...]",
	Short: "Interactive shell; with arguments runs one shell command",
	RunE: func(cmd *cobra.Command, args []string) error {
		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		sh := newShell(axis)
		if len(args) > 0 {
			return sh.Process(args...)
		}
		sh.Run()
		return nil
	},
}

func init() {
	shellCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(shellCmd)
}

func newShell(axis *lac1.Axis) *ishell.Shell {
	sh := ishell.New()
	sh.SetPrompt(shellPrompt)
	for _, sc := range shellCommands {
		sh.AddCmd(&ishell.Cmd{
			Name:    sc.name,
			Aliases: sc.aliases,
			Help:    sc.help,
			Func: func(c *ishell.Context) {
				out, err := sc.run(axis, c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				if out != "" {
					c.Println(out)
				}
			},
		})
	}
	return sh
}

// runShellCommand runs a shell command by name or alias without a shell.
func runShellCommand(axis *lac1.Axis, name string, args []string) (string, error) {
	for _, sc := range shellCommands {
		if sc.name == name {
			return sc.run(axis, args)
		}
		for _, alias := range sc.aliases {
			if alias == name {
				return sc.run(axis, args)
			}
		}
	}
	return "", fmt.Errorf("unknown command %q", name)
}

func oneFloat(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected one number", lac1.ErrInvalidParameter)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", lac1.ErrInvalidParameter, args[0])
	}
	return v, nil
}

func shellFloat(set func(*lac1.Axis, float64) error) func(*lac1.Axis, []string) (string, error) {
	return func(axis *lac1.Axis, args []string) (string, error) {
		v, err := oneFloat(args)
		if err != nil {
			return "", err
		}
		return "", set(axis, v)
	}
}

func shellSimple(fn func(*lac1.Axis) error) func(*lac1.Axis, []string) (string, error) {
	return func(axis *lac1.Axis, _ []string) (string, error) {
		return "", fn(axis)
	}
}

func shellPosition(axis *lac1.Axis, _ []string) (string, error) {
	pos, err := axis.Position()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.3f mm", pos), nil
}

func shellMove(axis *lac1.Axis, args []string) (string, error) {
	mm, err := oneFloat(args)
	if err != nil {
		return "", err
	}
	pos, err := axis.MoveAbsolute(mm, lac1.MoveOptions{Wait: true, ReportPosition: true})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.3f mm", pos), nil
}

func shellRelative(axis *lac1.Axis, args []string) (string, error) {
	mm, err := oneFloat(args)
	if err != nil {
		return "", err
	}
	if err := axis.MoveRelative(mm, true); err != nil {
		return "", err
	}
	return shellPosition(axis, nil)
}

func shellParams(axis *lac1.Axis, args []string) (string, error) {
	set := -1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return "", fmt.Errorf("%w: parameter set %q", lac1.ErrInvalidParameter, args[0])
		}
		set = n
	}
	lines, err := axis.GetParams(set)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func shellRaw(axis *lac1.Axis, args []string) (string, error) {
	cmds, err := lac1.ParseTokens(args)
	if err != nil {
		return "", err
	}
	lines, err := axis.Exec(cmds...)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
