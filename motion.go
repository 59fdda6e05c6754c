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
)

// MoveOptions controls what an absolute move does after motion starts.
type MoveOptions struct {
	// Wait blocks until the device reports motion has stopped.
	Wait bool
	// ReportPosition reads the position back after the move.
	ReportPosition bool
}

func checkFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidParameter, name, v)
	}
	return nil
}

// SetMaxVelocity sets the velocity limit in mm/s.
func (a *Axis) SetMaxVelocity(mmps float64) error {
	if err := checkFinite("velocity", mmps); err != nil {
		return err
	}
	if mmps < 0 {
		return fmt.Errorf("%w: velocity must not be negative, got %v", ErrInvalidParameter, mmps)
	}
	if _, err := a.send(CmdArg("SV", a.Scale().VelocityConstant()*mmps)); err != nil {
		return fmt.Errorf("failed to set velocity: %w", err)
	}
	return nil
}

// SetMaxAcceleration sets the acceleration limit in mm/s².
func (a *Axis) SetMaxAcceleration(mmps2 float64) error {
	if err := checkFinite("acceleration", mmps2); err != nil {
		return err
	}
	if mmps2 < 0 {
		return fmt.Errorf("%w: acceleration must not be negative, got %v", ErrInvalidParameter, mmps2)
	}
	if _, err := a.send(CmdArg("SA", a.Scale().AccelerationConstant()*mmps2)); err != nil {
		return fmt.Errorf("failed to set acceleration: %w", err)
	}
	return nil
}

// SetMaxTorque sets the torque limit in raw device units (0 to 32767).
func (a *Axis) SetMaxTorque(raw int) error {
	if raw < 0 || raw > math.MaxInt16 {
		return fmt.Errorf("%w: torque must be in [0, %d], got %d", ErrInvalidParameter, math.MaxInt16, raw)
	}
	if _, err := a.send(CmdArg("SQ", float64(raw))); err != nil {
		return fmt.Errorf("failed to set torque: %w", err)
	}
	return nil
}

// MoveAbsolute moves to a position in millimetres. Targets outside
// [0, travel × safety factor] fail with ErrOutOfTravel before anything is
// sent. The returned position is only meaningful with ReportPosition set.
func (a *Axis) MoveAbsolute(mm float64, opts MoveOptions) (float64, error) {
	if err := a.checkTravel(mm); err != nil {
		return 0, err
	}
	counts, err := a.moveAbsolute(a.Scale().MMToCounts(mm), opts)
	if err != nil {
		return 0, err
	}
	return a.Scale().CountsToMM(counts), nil
}

// MoveAbsoluteUM moves to a position in micrometres.
func (a *Axis) MoveAbsoluteUM(um float64, opts MoveOptions) (float64, error) {
	if err := checkFinite("target", um); err != nil {
		return 0, err
	}
	if err := a.checkTravel(um / 1000); err != nil {
		return 0, err
	}
	counts, err := a.moveAbsolute(a.Scale().UMToCounts(um), opts)
	if err != nil {
		return 0, err
	}
	return a.Scale().CountsToUM(counts), nil
}

// MoveAbsoluteCounts moves to a position in encoder counts.
func (a *Axis) MoveAbsoluteCounts(counts int, opts MoveOptions) (int, error) {
	if err := a.checkTravel(a.Scale().CountsToMM(counts)); err != nil {
		return 0, err
	}
	return a.moveAbsolute(counts, opts)
}

func (a *Axis) checkTravel(mm float64) error {
	if err := checkFinite("target", mm); err != nil {
		return err
	}
	limit := travelLimitMM(a.config.Travel, a.config.SafetyFactor)
	if mm < 0 || mm > limit {
		return fmt.Errorf("%w: %v mm not in [0, %v] mm", ErrOutOfTravel, mm, limit)
	}
	return nil
}

func (a *Axis) moveAbsolute(counts int, opts MoveOptions) (int, error) {
	_, err := a.send(Cmd("PM"), Cmd("MN"), CmdArg("MA", float64(counts)), Cmd("GO"))
	if err != nil {
		return 0, fmt.Errorf("absolute move to %d failed: %w", counts, err)
	}
	return a.finishMove(opts)
}

func (a *Axis) finishMove(opts MoveOptions) (int, error) {
	if opts.Wait {
		if err := a.WaitStop(); err != nil {
			return 0, err
		}
	}
	if !opts.ReportPosition {
		return 0, nil
	}
	return a.PositionCounts()
}

// MoveRelative moves by a distance in millimetres. Relative moves are not
// bounds checked.
func (a *Axis) MoveRelative(mm float64, wait bool) error {
	if err := checkFinite("distance", mm); err != nil {
		return err
	}
	return a.MoveRelativeCounts(a.Scale().MMToCounts(mm), wait)
}

// MoveRelativeCounts moves by a distance in encoder counts.
func (a *Axis) MoveRelativeCounts(counts int, wait bool) error {
	_, err := a.send(Cmd("PM"), Cmd("MN"), CmdArg("MR", float64(counts)), Cmd("GO"))
	if err != nil {
		return fmt.Errorf("relative move by %d failed: %w", counts, err)
	}
	_, err = a.finishMove(MoveOptions{Wait: wait})
	return err
}

// Go starts the motion set up by earlier commands.
func (a *Axis) Go() error {
	return a.simple("go", Cmd("GO"))
}

// Stop decelerates to a halt.
func (a *Axis) Stop() error {
	return a.simple("stop", Cmd("ST"))
}

// Abort stops motion immediately.
func (a *Axis) Abort() error {
	return a.simple("abort", Cmd("AB"))
}

// MotorOn enables the servo.
func (a *Axis) MotorOn() error {
	return a.simple("motor on", Cmd("MN"))
}

// MotorOff disables the servo.
func (a *Axis) MotorOff() error {
	return a.simple("motor off", Cmd("MF"))
}

// GoHome enables the motor and moves to the device home position.
func (a *Axis) GoHome() error {
	return a.simple("go home", Cmd("MN"), Cmd("GH"))
}

// WaitStop blocks until the device reports that motion has stopped.
func (a *Axis) WaitStop() error {
	return a.simple("wait stop", CmdArg("WS", WaitStopTime))
}

// Wait makes the device pause for ms milliseconds.
func (a *Axis) Wait(ms int) error {
	if ms < 0 {
		return fmt.Errorf("%w: wait must not be negative, got %d", ErrInvalidParameter, ms)
	}
	return a.simple("wait", CmdArg("WA", float64(ms)))
}

func (a *Axis) simple(name string, cmds ...Command) error {
	if _, err := a.send(cmds...); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
