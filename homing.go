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
	"strings"
	"time"
)

// HomingStrategy finds the mechanical limit of travel and defines a point
// near it as position 0.
type HomingStrategy interface {
	// Home runs the procedure on the axis. On success the axis is at rest
	// at position 0.
	Home(a *Axis) error
	// Name identifies the strategy in logs and configuration
	Name() string
}

// HomingStrategyByName returns the default strategy called name.
func HomingStrategyByName(name string) (HomingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "macro", "":
		return DefaultMacroHoming(), nil
	case "host":
		return DefaultHostHoming(), nil
	default:
		return nil, fmt.Errorf("%w: unknown homing strategy %q", ErrInvalidParameter, name)
	}
}

// MacroHoming homes with a program stored in the LAC-1 macro memory.
//
// The program lives in four macros starting at Macro:
//
//	Macro+0  servo parameters (macro 0 calls it at power on)
//	Macro+1  velocity mode towards decreasing counts, motor on, seek
//	Macro+2  poll the position error word; past the limit jump to Macro+5,
//	         otherwise repeat
//	Macro+5  stop, back off, define home, motor off
//
// Execution falls through from one macro to the next higher one, so calling
// Macro+0 runs the whole sequence.
type MacroHoming struct {
	// ServoParams are stored in the first macro. Nil uses the defaults
	// without the error limit.
	ServoParams []Command
	// Macro is the first macro number of the program
	Macro int
	// Velocity, Acceleration and Torque are raw SV, SA and SQ values
	Velocity     int
	Acceleration int
	Torque       int
	// SeekWaitMs is how long the motor runs before the first error poll
	SeekWaitMs int
	// ErrorAddress is the memory word holding the position error
	ErrorAddress int
	// PositionErrorLimit is the error magnitude that marks the limit
	PositionErrorLimit int
	// BackoffCounts is the distance moved off the limit before defining home
	BackoffCounts int
	// AutoInstall installs the program from Home when macro 0 is empty
	AutoInstall bool
}

// DefaultMacroHoming returns the macro program of the reference stage.
func DefaultMacroHoming() *MacroHoming {
	return &MacroHoming{
		Macro:              100,
		Velocity:           60000,
		Acceleration:       1000,
		Torque:             7000,
		SeekWaitMs:         20,
		ErrorAddress:       538,
		PositionErrorLimit: 20,
		BackoffCounts:      1000,
		AutoInstall:        true,
	}
}

// Name implements HomingStrategy
func (*MacroHoming) Name() string {
	return "macro"
}

func (m *MacroHoming) servoParams() []Command {
	if m.ServoParams != nil {
		return m.ServoParams
	}
	return []Command{
		CmdArg("SG", 50),
		CmdArg("SI", 80),
		CmdArg("SD", 600),
		CmdArg("IL", 5000),
		CmdArg("FR", 1),
		CmdArg("RI", 1),
	}
}

func macroDefinition(n int, body ...Command) []Command {
	return append([]Command{CmdArg("MD", float64(n))}, body...)
}

// Program returns the batches that define the homing macros, in the order
// they are sent.
func (m *MacroHoming) Program() [][]Command {
	base := m.Macro
	return [][]Command{
		macroDefinition(base, m.servoParams()...),
		macroDefinition(base+1,
			Cmd("VM"), Cmd("MN"),
			CmdArg("SQ", float64(m.Torque)),
			CmdArg("SA", float64(m.Acceleration)),
			CmdArg("SV", float64(m.Velocity)),
			CmdArg("DI", 1), Cmd("GO"),
			CmdArg("WA", float64(m.SeekWaitMs))),
		// IB runs the next two commands only when true, NO pads the pair.
		macroDefinition(base+2,
			CmdArg("RW", float64(m.ErrorAddress)),
			CmdArg("IB", float64(-m.PositionErrorLimit)),
			Cmd("NO"),
			CmdArg("MJ", float64(base+5)),
			Cmd("RP")),
		macroDefinition(base+5,
			Cmd("ST"), CmdArg("WS", WaitStopTime),
			Cmd("PM"), CmdArg("MR", float64(m.BackoffCounts)), Cmd("GO"),
			CmdArg("WS", 25), CmdArg("DH", 0), Cmd("GH"), Cmd("MF")),
		macroDefinition(0, CmdArg("MC", float64(base))),
	}
}

// Installed reports whether macro 0 holds a definition. The echoed query is
// not counted as a definition.
func (*MacroHoming) Installed(a *Axis) (bool, error) {
	query := Cmd("TM0")
	lines, err := a.send(query)
	if err != nil {
		return false, fmt.Errorf("macro query failed: %w", err)
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && line != query.String() {
			return true, nil
		}
	}
	return false, nil
}

// Install writes the program. Unless force is set it does nothing when
// macro 0 is already defined.
func (m *MacroHoming) Install(a *Axis, force bool) error {
	if !force {
		installed, err := m.Installed(a)
		if err != nil {
			return err
		}
		if installed {
			a.log.Debugln("homing macros already installed")
			return nil
		}
	}

	// Macros must not change while the motor is on
	if err := a.MotorOff(); err != nil {
		return err
	}
	if _, err := a.send(Cmd("RM")); err != nil {
		return fmt.Errorf("macro reset failed: %w", err)
	}
	for _, batch := range m.Program() {
		if _, err := a.send(batch...); err != nil {
			return fmt.Errorf("macro definition %s failed: %w", batch[0], err)
		}
	}
	a.log.Debugf("installed homing macros at %d", m.Macro)
	return nil
}

// Home implements HomingStrategy. MS blocks until the program has finished;
// the final absolute move to 0 corrects the slight negative overshoot the
// device leaves behind.
func (m *MacroHoming) Home(a *Axis) error {
	if m.AutoInstall {
		if err := m.Install(a, false); err != nil {
			return err
		}
	}
	if _, err := a.send(CmdArg("MS", float64(m.Macro))); err != nil {
		return fmt.Errorf("macro %d failed: %w", m.Macro, err)
	}
	if _, err := a.MoveAbsoluteCounts(0, MoveOptions{Wait: true}); err != nil {
		return fmt.Errorf("return to zero failed: %w", err)
	}
	return nil
}

// HostHoming homes by stepping the axis towards the limit from the host and
// watching the position until it no longer decreases.
type HostHoming struct {
	// Velocity is the seek velocity in mm/s
	Velocity float64
	// Acceleration is the seek acceleration in mm/s²
	Acceleration float64
	// Torque is the raw torque limit while seeking
	Torque int
	// StepDuration is how long the motor runs per iteration
	StepDuration time.Duration
	// SettleDelay is the pause between stopping and reading the position
	SettleDelay time.Duration
	// BackoffCounts is the distance moved off the limit before defining home
	BackoffCounts int
	// MaxIterations bounds the seek loop
	MaxIterations int
}

// DefaultHostHoming returns slow seek parameters for the reference stage.
func DefaultHostHoming() *HostHoming {
	return &HostHoming{
		Velocity:      4,
		Acceleration:  100,
		Torque:        7000,
		StepDuration:  50 * time.Millisecond,
		SettleDelay:   20 * time.Millisecond,
		BackoffCounts: 1000,
		MaxIterations: 1000,
	}
}

// Name implements HomingStrategy
func (*HostHoming) Name() string {
	return "host"
}

// Home implements HomingStrategy
func (h *HostHoming) Home(a *Axis) error {
	if h.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1", ErrInvalidParameter)
	}
	if err := a.SetMaxVelocity(h.Velocity); err != nil {
		return err
	}
	if err := a.SetMaxAcceleration(h.Acceleration); err != nil {
		return err
	}
	if err := a.SetMaxTorque(h.Torque); err != nil {
		return err
	}

	prev, err := a.PositionCounts()
	if err != nil {
		return err
	}

	step := []Command{
		Cmd("VM"), Cmd("MN"), CmdArg("DI", 1), Cmd("GO"),
		CmdArg("WA", float64(h.StepDuration.Milliseconds())),
		Cmd("ST"), Cmd("MF"),
	}

	stalled := false
	for i := range h.MaxIterations {
		if _, err := a.send(step...); err != nil {
			return fmt.Errorf("seek step %d failed: %w", i+1, err)
		}
		a.sleep(h.SettleDelay)

		pos, err := a.PositionCounts()
		if err != nil {
			return err
		}
		a.log.Debugf("homing step %d: position %d (delta %d)", i+1, pos, pos-prev)
		if pos-prev >= 0 {
			stalled = true
			break
		}
		prev = pos
	}
	if !stalled {
		return fmt.Errorf("%w: limit not reached after %d steps", ErrHomingFailed, h.MaxIterations)
	}

	backoff := []Command{Cmd("PM"), Cmd("MN"), CmdArg("MR", float64(h.BackoffCounts)), Cmd("GO")}
	if _, err := a.send(backoff...); err != nil {
		return fmt.Errorf("backoff move failed: %w", err)
	}
	if err := a.WaitStop(); err != nil {
		return err
	}
	if _, err := a.send(CmdArg("DH", 0)); err != nil {
		return fmt.Errorf("define home failed: %w", err)
	}
	return nil
}
