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

	"github.com/ZaparooProject/go-lac1"
	"github.com/spf13/cobra"
)

var (
	forceInstall bool

	moveRelative bool
	moveNoWait   bool
	moveUM       bool
	moveLimits   limits
)

// limits are motion limits given on the command line. Zero leaves the
// device value unchanged.
type limits struct {
	velocity     float64
	acceleration float64
	torque       int
}

func (l *limits) register(cmd *cobra.Command, defaults limits) {
	cmd.Flags().Float64Var(&l.velocity, "velocity", defaults.velocity, "Maximum velocity in mm/s")
	cmd.Flags().Float64Var(&l.acceleration, "acceleration", defaults.acceleration, "Maximum acceleration in mm/s²")
	cmd.Flags().IntVar(&l.torque, "torque", defaults.torque, "Maximum torque, raw device units")
}

func (l limits) apply(axis *lac1.Axis) error {
	if l.velocity > 0 {
		if err := axis.SetMaxVelocity(l.velocity); err != nil {
			return err
		}
	}
	if l.acceleration > 0 {
		if err := axis.SetMaxAcceleration(l.acceleration); err != nil {
			return err
		}
	}
	if l.torque > 0 {
		if err := axis.SetMaxTorque(l.torque); err != nil {
			return err
		}
	}
	return nil
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Home the axis and define position 0",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		if forceInstall {
			if err := axis.InstallHomingMacro(true); err != nil {
				return err
			}
		}
		if err := axis.Home(); err != nil {
			return err
		}
		return printPosition(cmd, axis)
	},
}

var moveCmd = &cobra.Command{
	Use:   "move POSITION",
	Short: "Move to an absolute position in mm",
	Args:  cobra.ExactArgs(1),
	RunE:  runMove,
}

var positionCmd = &cobra.Command{
	Use:     "position",
	Aliases: []string{"pos"},
	Short:   "Print the current position",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()
		return printPosition(cmd, axis)
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params [SET]",
	Short: "Print servo parameters, all sets or the given one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set := -1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("%w: parameter set %q", lac1.ErrInvalidParameter, args[0])
			}
			set = n
		}

		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		lines, err := axis.GetParams(set)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	homeCmd.Flags().BoolVar(&forceInstall, "force-install", false, "Rewrite the homing macros first")

	moveCmd.Flags().BoolVarP(&moveRelative, "relative", "r", false, "Move by POSITION instead of to it")
	moveCmd.Flags().BoolVar(&moveNoWait, "no-wait", false, "Return without waiting for the move to end")
	moveCmd.Flags().BoolVar(&moveUM, "um", false, "POSITION is in micrometres")
	moveLimits.register(moveCmd, limits{})

	rootCmd.AddCommand(homeCmd, moveCmd, positionCmd, paramsCmd)
}

func runMove(cmd *cobra.Command, args []string) error {
	target, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("%w: position %q", lac1.ErrInvalidParameter, args[0])
	}
	mm := target
	if moveUM {
		mm = target / 1000
	}

	axis, done, err := connectAxis(cmd)
	if err != nil {
		return err
	}
	defer done()

	if err := moveLimits.apply(axis); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if moveRelative {
		fmt.Fprintf(out, "Moving by %.3f mm\n", mm)
		if err := axis.MoveRelative(mm, !moveNoWait); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Moving to %.3f mm\n", mm)
		opts := lac1.MoveOptions{Wait: !moveNoWait}
		if moveUM {
			_, err = axis.MoveAbsoluteUM(target, opts)
		} else {
			_, err = axis.MoveAbsolute(mm, opts)
		}
		if err != nil {
			return err
		}
	}

	if moveNoWait {
		fmt.Fprintln(out, "Started")
		return nil
	}
	fmt.Fprintln(out, "Done")
	return printPosition(cmd, axis)
}

func printPosition(cmd *cobra.Command, axis *lac1.Axis) error {
	counts, err := axis.PositionCounts()
	if err != nil {
		return err
	}
	scale := axis.Scale()
	fmt.Fprintf(cmd.OutOrStdout(), "Position: %.3f mm (%s, %d counts)\n",
		scale.CountsToMM(counts), scale.CountsToDistance(counts), counts)
	return nil
}
