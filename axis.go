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
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Axis drives one LAC-1 controlled actuator.
//
// The device is the authority for position, mode and motor state; Axis keeps
// no copy of them and queries the device whenever a decision depends on one.
// An Axis is not safe for concurrent use.
type Axis struct {
	transport Transport
	config    *AxisConfig
	log       *Logger
	sleep     func(time.Duration)
	closed    bool
}

// New initializes an Axis on an open transport. It sends the servo tuning
// batch and then applies the safe velocity and acceleration limits, so motion
// issued before the caller configures limits is slow.
func New(transport Transport, opts ...Option) (*Axis, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}

	axis := &Axis{
		transport: transport,
		config:    DefaultAxisConfig(),
		sleep:     time.Sleep,
	}

	for _, opt := range opts {
		if err := opt(axis); err != nil {
			return nil, err
		}
	}

	if err := axis.config.Validate(); err != nil {
		return nil, err
	}
	axis.log = axis.config.Logger

	if err := axis.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize axis: %w", err)
	}

	return axis, nil
}

func (a *Axis) init() error {
	if len(a.config.ServoParams) > 0 {
		if _, err := a.send(a.config.ServoParams...); err != nil {
			return fmt.Errorf("servo parameters: %w", err)
		}
	}
	if err := a.SetMaxVelocity(SafeVelocity); err != nil {
		return err
	}
	return a.SetMaxAcceleration(SafeAcceleration)
}

// Transport returns the underlying transport
func (a *Axis) Transport() Transport {
	return a.transport
}

// Config returns a copy of the axis configuration
func (a *Axis) Config() AxisConfig {
	return *a.config
}

// Scale returns the unit conversion used by the axis
func (a *Axis) Scale() Scale {
	return a.config.Scale()
}

// send transmits one batch and waits for the ready prompt.
func (a *Axis) send(cmds ...Command) ([]string, error) {
	if a.closed {
		return nil, NewTransportClosedError("send", "")
	}
	return a.transport.SendBatch(cmds, true)
}

// sendNoWait transmits one batch without reading the reply.
func (a *Axis) sendNoWait(cmds ...Command) error {
	if a.closed {
		return NewTransportClosedError("send", "")
	}
	_, err := a.transport.SendBatch(cmds, false)
	return err
}

// Exec sends an arbitrary batch and returns the reply lines.
func (a *Axis) Exec(cmds ...Command) ([]string, error) {
	return a.send(cmds...)
}

// PositionCounts returns the encoder position. The TP query is retried on
// transport errors and unparsable replies; device faults end it at once.
func (a *Axis) PositionCounts() (int, error) {
	var counts int
	attempt := 0
	err := RetryWithConfig(context.Background(), a.config.PositionRetry, func() error {
		attempt++
		lines, err := a.send(Cmd("TP"))
		if err != nil {
			a.log.Debugf("position query attempt %d failed: %v", attempt, err)
			return err
		}
		if len(lines) == 0 {
			a.log.Debugf("position query attempt %d: empty reply", attempt)
			return NewMalformedReplyError("TP", "")
		}
		value, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			a.log.Debugf("position query attempt %d: unparsable reply %q", attempt, lines[0])
			return NewMalformedReplyError("TP", lines[0])
		}
		counts = value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("position query failed: %w", err)
	}
	return counts, nil
}

// Position returns the encoder position in millimetres.
func (a *Axis) Position() (float64, error) {
	counts, err := a.PositionCounts()
	if err != nil {
		return 0, err
	}
	return a.Scale().CountsToMM(counts), nil
}

// PositionUM returns the encoder position in micrometres.
func (a *Axis) PositionUM() (float64, error) {
	counts, err := a.PositionCounts()
	if err != nil {
		return 0, err
	}
	return a.Scale().CountsToUM(counts), nil
}

// PositionDistance returns the encoder position as a physic.Distance.
func (a *Axis) PositionDistance() (physic.Distance, error) {
	counts, err := a.PositionCounts()
	if err != nil {
		return 0, err
	}
	return a.Scale().CountsToDistance(counts), nil
}

// GetParams returns the raw lines of a TK parameter dump. A negative set
// requests the default dump.
func (a *Axis) GetParams(set int) ([]string, error) {
	cmd := Cmd("TK")
	if set >= 0 {
		cmd = CmdArg("TK", float64(set))
	}
	lines, err := a.send(cmd)
	if err != nil {
		return nil, fmt.Errorf("parameter query failed: %w", err)
	}
	return lines, nil
}

// LastError asks the LAC-1 for its last error text.
func (a *Axis) LastError() (string, error) {
	lines, err := a.send(Cmd("TE"))
	if err != nil {
		return "", fmt.Errorf("error query failed: %w", err)
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], nil
}

// Home drives the axis to its reference position with the configured
// strategy. On success the axis is at rest at position 0 and the velocity,
// acceleration and torque limits are the homing values; callers re-apply
// their own limits afterwards.
func (a *Axis) Home() error {
	strategy := a.config.Homing
	a.log.Debugf("homing with %s strategy", strategy.Name())
	if err := strategy.Home(a); err != nil {
		return fmt.Errorf("%s homing: %w", strategy.Name(), err)
	}
	return nil
}

// InstallHomingMacro writes the homing macros to the device. Unless force is
// set, nothing is written when macro 0 is already defined. Axes configured
// with a non-macro strategy install the default macros.
func (a *Axis) InstallHomingMacro(force bool) error {
	macro, ok := a.config.Homing.(*MacroHoming)
	if !ok {
		macro = DefaultMacroHoming()
	}
	return macro.Install(a, force)
}

// Close stops the axis and releases the transport. Shutdown is best effort:
// failures are logged and never returned.
func (a *Axis) Close() error {
	if a.closed {
		return nil
	}

	err := a.shutdown()
	if err != nil {
		a.log.Debugf("shutdown sequence incomplete: %v", err)
	}
	a.closed = true

	if err := a.transport.Close(); err != nil {
		a.log.Debugf("failed to close transport: %v", err)
	}
	return nil
}

// shutdown sends ESC twice to leave any running macro, aborts motion,
// switches the motor off and turns echo back on. A device fault does not
// end the sequence; a lost link does.
func (a *Axis) shutdown() error {
	escape := Cmd(Escape)
	for range 2 {
		if err := a.sendNoWait(escape); err != nil {
			return fmt.Errorf("escape: %w", err)
		}
	}

	steps := []struct {
		name string
		cmd  Command
	}{
		{"abort", Cmd("AB")},
		{"motor off", Cmd("MF")},
		{"echo on", Cmd("EN")},
	}
	var errs []error
	for _, step := range steps {
		_, err := a.send(step.cmd)
		if err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		if IsFatal(err) || IsTransportTimeout(err) {
			break
		}
	}

	return errors.Join(errs...)
}
