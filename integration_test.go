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

package lac1_test

import (
	"strings"
	"testing"
	"time"

	"github.com/ZaparooProject/go-lac1"
	virt "github.com/ZaparooProject/go-lac1/internal/testing"
	"github.com/ZaparooProject/go-lac1/transport/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

// testScale divides evenly so the velocity constant is exact
var testScale = lac1.Scale{CountsPerMM: 1000, ServoLoopRate: 4096 * physic.Hertz}

func fastRetry() *lac1.RetryConfig {
	return &lac1.RetryConfig{
		MaxAttempts:       lac1.PositionQueryAttempts,
		InitialBackoff:    time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2,
	}
}

// newSimAxis connects an axis through the serial transport to a simulated
// controller.
func newSimAxis(t *testing.T, sim *virt.VirtualLAC1, opts ...lac1.Option) (*lac1.Axis, *virt.VirtualPort) {
	t.Helper()

	port := virt.NewVirtualPort(sim)
	transport, err := uart.NewWithPort(port, "/dev/ttySIM0", uart.WithLogger(nil), uart.WithMinInterval(0))
	require.NoError(t, err)

	opts = append([]lac1.Option{
		lac1.WithLogger(nil),
		lac1.WithScale(testScale),
		lac1.WithPositionRetry(fastRetry()),
	}, opts...)
	axis, err := lac1.New(transport, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = axis.Close() })
	return axis, port
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func TestIntegration_Setup(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	newSimAxis(t, sim)

	assert.Equal(t, []string{"SG50,SI80,SD600,IL5000,SE16383,RI1,FR1", "SV16000", "SA3"}, sim.ReceivedLines())
	state := sim.GetState()
	assert.Equal(t, 16383, state.Params["SE"])
	assert.Equal(t, 16000, state.Velocity)
}

func TestIntegration_Position(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(1000)
	axis, _ := newSimAxis(t, sim)

	pos, err := axis.Position()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos, 1e-9)

	um, err := axis.PositionUM()
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, um, 1e-9)

	d, err := axis.PositionDistance()
	require.NoError(t, err)
	assert.Equal(t, physic.MilliMetre, d)
}

func TestIntegration_PositionRetriesMalformedReplies(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(2500)
	axis, _ := newSimAxis(t, sim)

	sim.CorruptNextReplies(3)
	counts, err := axis.PositionCounts()
	require.NoError(t, err)
	assert.Equal(t, 2500, counts)
	assert.Equal(t, 4, countPrefix(sim.ReceivedLines(), "TP"))
}

func TestIntegration_PositionRetriesTimeouts(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(-40)
	port := virt.NewVirtualPort(sim)
	transport, err := uart.NewWithPort(port, "/dev/ttySIM0",
		uart.WithLogger(nil),
		uart.WithMinInterval(0),
		uart.WithTimeoutBudget(50*time.Millisecond))
	require.NoError(t, err)
	axis, err := lac1.New(transport, lac1.WithLogger(nil), lac1.WithScale(testScale),
		lac1.WithPositionRetry(fastRetry()))
	require.NoError(t, err)
	defer func() { _ = axis.Close() }()

	sim.DropNextPrompts(2)
	counts, err := axis.PositionCounts()
	require.NoError(t, err)
	assert.Equal(t, -40, counts)
}

func TestIntegration_DeviceFault(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim)

	sim.InjectFault("TP", "41")
	_, err := axis.Position()
	require.Error(t, err)

	var devErr *lac1.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "41", devErr.Message)
	assert.True(t, lac1.IsDeviceFault(err))
	assert.False(t, lac1.IsTransportTimeout(err))
	assert.False(t, lac1.IsPrecondition(err))
	assert.Equal(t, 1, countPrefix(sim.ReceivedLines(), "TP"), "device faults are not retried")

	sim.ClearFaults()
	last, err := axis.LastError()
	require.NoError(t, err)
	assert.Equal(t, "41", last)
}

func TestIntegration_MoveRoundTrip(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim)

	for _, mm := range []float64{0, 0.001, 1, 12.345, 24.999, 25} {
		pos, err := axis.MoveAbsolute(mm, lac1.MoveOptions{Wait: true, ReportPosition: true})
		require.NoError(t, err)
		assert.InDelta(t, mm, pos, 1e-9)
	}

	require.NoError(t, axis.MoveRelative(-5, true))
	pos, err := axis.Position()
	require.NoError(t, err)
	assert.InDelta(t, 20.0, pos, 1e-9)

	um, err := axis.MoveAbsoluteUM(1500, lac1.MoveOptions{Wait: true, ReportPosition: true})
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, um, 1e-9)
}

func TestIntegration_MoveOutOfTravel(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim, lac1.WithTravel(25*physic.MilliMetre, 0.9))
	before := len(sim.ReceivedLines())

	_, err := axis.MoveAbsolute(22.6, lac1.MoveOptions{Wait: true})
	require.ErrorIs(t, err, lac1.ErrOutOfTravel)
	assert.True(t, lac1.IsPrecondition(err))
	assert.Len(t, sim.ReceivedLines(), before, "nothing is sent for rejected moves")

	_, err = axis.MoveAbsolute(22.5, lac1.MoveOptions{Wait: true})
	require.NoError(t, err)
}

func TestIntegration_LimitsReachDevice(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim)

	require.NoError(t, axis.SetMaxVelocity(2.5))
	require.NoError(t, axis.SetMaxAcceleration(1000))
	require.NoError(t, axis.SetMaxTorque(12000))

	state := sim.GetState()
	assert.Equal(t, 40000, state.Velocity)
	assert.Equal(t, 3906, state.Acceleration)
	assert.Equal(t, 12000, state.Torque)

	params, err := axis.GetParams(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"SV40000", "SA3906", "SQ12000"}, params)
}

func TestIntegration_MacroInstallIdempotent(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim)

	require.NoError(t, axis.InstallHomingMacro(false))
	require.NoError(t, axis.InstallHomingMacro(false))

	lines := sim.ReceivedLines()
	assert.Equal(t, 1, countPrefix(lines, "RM"))
	assert.Equal(t, 1, countPrefix(lines, "MD0,"))
	assert.Equal(t, 5, countPrefix(lines, "MD"))
	assert.Equal(t, 2, countPrefix(lines, "TM0"))

	def, ok := sim.Macro(0)
	require.True(t, ok)
	assert.Equal(t, "MD0,MC100", def)

	// Forcing rewrites the program
	require.NoError(t, axis.InstallHomingMacro(true))
	assert.Equal(t, 10, countPrefix(sim.ReceivedLines(), "MD"))
}

func TestIntegration_MacroHoming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		start     int
		overshoot int
	}{
		{name: "FromMidTravel", start: 12000},
		{name: "FromBelowLimitBackoff", start: -2500},
		{name: "CorrectsOvershoot", start: 8000, overshoot: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sim := virt.NewVirtualLAC1()
			sim.SetPosition(tt.start)
			sim.SetHomeOvershoot(tt.overshoot)
			axis, _ := newSimAxis(t, sim)

			require.NoError(t, axis.Home())

			pos, err := axis.PositionCounts()
			require.NoError(t, err)
			assert.Equal(t, 0, pos)
			assert.Equal(t, virt.DefaultLowerLimit+1000, sim.GetState().Physical)

			// Homing again reuses the installed program
			require.NoError(t, axis.Home())
			assert.Equal(t, 5, countPrefix(sim.ReceivedLines(), "MD"))
		})
	}
}

func TestIntegration_HostHoming(t *testing.T) {
	t.Parallel()

	homing := lac1.DefaultHostHoming()
	homing.SettleDelay = time.Millisecond

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(6000)
	axis, _ := newSimAxis(t, sim, lac1.WithHoming(homing))

	require.NoError(t, axis.Home())

	pos, err := axis.PositionCounts()
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	state := sim.GetState()
	assert.Equal(t, virt.DefaultLowerLimit+1000, state.Physical)
	assert.Equal(t, 7000, state.Torque)
	assert.Zero(t, countPrefix(sim.ReceivedLines(), "MD"), "host homing writes no macros")
}

func TestIntegration_HostHomingNeverStalls(t *testing.T) {
	t.Parallel()

	homing := lac1.DefaultHostHoming()
	homing.SettleDelay = 0
	homing.MaxIterations = 3

	sim := virt.NewVirtualLAC1()
	sim.SetLimits(-1_000_000, 30000)
	axis, _ := newSimAxis(t, sim, lac1.WithHoming(homing))

	err := axis.Home()
	require.ErrorIs(t, err, lac1.ErrHomingFailed)
}

func TestIntegration_RawBatch(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(321)
	axis, _ := newSimAxis(t, sim)

	cmds, err := lac1.ParseTokens([]string{"TP", "", "TK", "1"})
	require.NoError(t, err)
	lines, err := axis.Exec(cmds...)
	require.NoError(t, err)
	assert.Equal(t, []string{"321", "SV16000", "SA3", "SQ0"}, lines)
}

func TestIntegration_Close(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	port := virt.NewVirtualPort(sim)
	transport, err := uart.NewWithPort(port, "/dev/ttySIM0", uart.WithLogger(nil), uart.WithMinInterval(0))
	require.NoError(t, err)
	axis, err := lac1.New(transport, lac1.WithLogger(nil), lac1.WithScale(testScale))
	require.NoError(t, err)

	sim.SetEcho(false)
	require.NoError(t, axis.MoveRelativeCounts(100, true))
	require.NoError(t, axis.Close())

	lines := sim.ReceivedLines()
	assert.Equal(t, []string{lac1.Escape, lac1.Escape, "AB", "MF", "EN"}, lines[len(lines)-5:])
	state := sim.GetState()
	assert.False(t, state.MotorOn)
	assert.True(t, state.Echo)
	assert.True(t, port.IsClosed())

	_, err = axis.Position()
	require.ErrorIs(t, err, lac1.ErrTransportClosed)
}

func TestIntegration_CloseSurvivesDeadLink(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	port := virt.NewVirtualPort(sim)
	transport, err := uart.NewWithPort(port, "/dev/ttySIM0",
		uart.WithLogger(nil),
		uart.WithMinInterval(0),
		uart.WithTimeoutBudget(20*time.Millisecond))
	require.NoError(t, err)
	axis, err := lac1.New(transport, lac1.WithLogger(nil), lac1.WithScale(testScale))
	require.NoError(t, err)

	sim.DropNextPrompts(10)
	require.NoError(t, axis.Close())
	assert.True(t, port.IsClosed())
	assert.Equal(t, "AB", sim.ReceivedLines()[len(sim.ReceivedLines())-1])
}

func TestIntegration_CloseContinuesAfterAbortFault(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	axis, _ := newSimAxis(t, sim)
	_, err := axis.Exec(lac1.Cmd("MN"))
	require.NoError(t, err)
	require.True(t, sim.GetState().MotorOn)

	sim.InjectFault("AB", "41")
	require.NoError(t, axis.Close())

	lines := sim.ReceivedLines()
	assert.Equal(t, []string{"AB", "MF", "EN"}, lines[len(lines)-3:])
	assert.False(t, sim.GetState().MotorOn)
}

func TestIntegration_Jittery(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(15000)
	config := virt.DefaultJitterConfig()
	config.MaxLatencyMs = 0
	config.Seed = 2025
	port := virt.NewJitteryVirtualPort(sim, config)
	transport, err := uart.NewWithPort(port, "/dev/ttySIM0", uart.WithLogger(nil), uart.WithMinInterval(0))
	require.NoError(t, err)
	axis, err := lac1.New(transport, lac1.WithLogger(nil), lac1.WithScale(testScale),
		lac1.WithPositionRetry(fastRetry()))
	require.NoError(t, err)
	defer func() { _ = axis.Close() }()

	require.NoError(t, axis.Home())
	pos, err := axis.MoveAbsolute(10, lac1.MoveOptions{Wait: true, ReportPosition: true})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pos, 1e-9)
}
