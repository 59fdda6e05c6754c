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
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// AxisConfig holds the stage geometry and tunables of an Axis.
type AxisConfig struct {
	// Logger receives debug output. Nil disables logging.
	Logger *Logger
	// Homing is the strategy used by Home. Defaults to MacroHoming.
	Homing HomingStrategy
	// PositionRetry bounds the retries of a position query
	PositionRetry *RetryConfig
	// ServoParams is the tuning batch transmitted on connect
	ServoParams []Command
	// CountsPerMM is the encoder resolution
	CountsPerMM float64
	// Travel is the mechanical travel of the stage
	Travel physic.Distance
	// ServoLoopRate is the LAC-1 servo loop frequency
	ServoLoopRate physic.Frequency
	// SafetyFactor scales Travel to give the absolute move bound, 0 < f ≤ 1
	SafetyFactor float64
}

// DefaultServoParams returns the servo tuning of the reference stage:
// gain, integral, derivative, integral limit, error limit, integral rate and
// phase advance.
func DefaultServoParams() []Command {
	return []Command{
		CmdArg("SG", 50),
		CmdArg("SI", 80),
		CmdArg("SD", 600),
		CmdArg("IL", 5000),
		CmdArg("SE", 16383),
		CmdArg("RI", 1),
		CmdArg("FR", 1),
	}
}

// DefaultAxisConfig returns the configuration of the reference stage.
// Debug output follows the LAC1_DEBUG and DEBUG environment variables.
func DefaultAxisConfig() *AxisConfig {
	return &AxisConfig{
		Logger:        NewLogger(DebugFromEnv()),
		Homing:        DefaultMacroHoming(),
		PositionRetry: DefaultRetryConfig(),
		ServoParams:   DefaultServoParams(),
		CountsPerMM:   DefaultCountsPerMM,
		Travel:        DefaultTravel,
		ServoLoopRate: DefaultServoLoopRate,
		SafetyFactor:  DefaultSafetyFactor,
	}
}

// Scale returns the unit conversion described by the configuration.
func (c *AxisConfig) Scale() Scale {
	return Scale{CountsPerMM: c.CountsPerMM, ServoLoopRate: c.ServoLoopRate}
}

// Validate checks the configuration for values that would make motion unsafe.
func (c *AxisConfig) Validate() error {
	if err := c.Scale().Validate(); err != nil {
		return err
	}
	if c.Travel <= 0 {
		return fmt.Errorf("%w: travel must be positive, got %s", ErrInvalidParameter, c.Travel)
	}
	if !(c.SafetyFactor > 0) || c.SafetyFactor > 1 || math.IsNaN(c.SafetyFactor) {
		return fmt.Errorf("%w: safety factor must be in (0, 1], got %v", ErrInvalidParameter, c.SafetyFactor)
	}
	if c.Homing == nil {
		return fmt.Errorf("%w: no homing strategy", ErrInvalidParameter)
	}
	if len(c.ServoParams) > 0 {
		if _, err := EncodeBatch(c.ServoParams); err != nil {
			return fmt.Errorf("servo params: %w", err)
		}
	}
	return nil
}

// Option configures an Axis before it talks to the device.
type Option func(*Axis) error

// WithConfig replaces the whole configuration.
func WithConfig(config *AxisConfig) Option {
	return func(a *Axis) error {
		if config == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidParameter)
		}
		cfg := *config
		a.config = &cfg
		return nil
	}
}

// WithLogger sets the debug logger.
func WithLogger(logger *Logger) Option {
	return func(a *Axis) error {
		a.config.Logger = logger
		return nil
	}
}

// WithHoming selects the homing strategy used by Home.
func WithHoming(strategy HomingStrategy) Option {
	return func(a *Axis) error {
		if strategy == nil {
			return fmt.Errorf("%w: nil homing strategy", ErrInvalidParameter)
		}
		a.config.Homing = strategy
		return nil
	}
}

// WithScale sets the encoder resolution and the servo loop rate.
func WithScale(scale Scale) Option {
	return func(a *Axis) error {
		if err := scale.Validate(); err != nil {
			return err
		}
		a.config.CountsPerMM = scale.CountsPerMM
		a.config.ServoLoopRate = scale.ServoLoopRate
		return nil
	}
}

// WithTravel sets the stage travel and the safety factor applied to it.
func WithTravel(travel physic.Distance, safetyFactor float64) Option {
	return func(a *Axis) error {
		a.config.Travel = travel
		a.config.SafetyFactor = safetyFactor
		return nil
	}
}

// WithServoParams replaces the tuning batch sent on connect. An empty list
// skips the batch.
func WithServoParams(params ...Command) Option {
	return func(a *Axis) error {
		a.config.ServoParams = append([]Command(nil), params...)
		return nil
	}
}

// WithPositionRetry sets the retry policy of position queries.
func WithPositionRetry(config *RetryConfig) Option {
	return func(a *Axis) error {
		if config == nil {
			return fmt.Errorf("%w: nil retry config", ErrInvalidParameter)
		}
		a.config.PositionRetry = config
		return nil
	}
}

// TransportFactory opens a transport for a port path at a baud rate
type TransportFactory func(path string, baud int) (Transport, error)

// ConnectOption configures ConnectAxis
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	transportFactory TransportFactory
	axisOptions      []Option
}

// WithTransportFactory sets the function used to open the port
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithAxisOptions passes options through to New
func WithAxisOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.axisOptions = append(c.axisOptions, opts...)
		return nil
	}
}

// ConnectAxis opens the port at path and initializes an Axis on it. The
// transport is closed again if initialization fails.
//
// Example usage:
//
//	axis, err := lac1.ConnectAxis("/dev/ttyUSB0", lac1.DefaultBaudRate,
//		lac1.WithTransportFactory(uart.Factory()))
func ConnectAxis(path string, baud int, opts ...ConnectOption) (*Axis, error) {
	config := &connectConfig{}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	if config.transportFactory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := config.transportFactory(path, baud)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}

	axis, err := New(transport, config.axisOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	return axis, nil
}
