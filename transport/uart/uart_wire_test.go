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

package uart

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ZaparooProject/go-lac1"
	virt "github.com/ZaparooProject/go-lac1/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the transport sleeps
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	mu     sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestTransport(t *testing.T, sim *virt.VirtualLAC1, opts ...Option) (*Transport, *virt.VirtualPort, *fakeClock) {
	t.Helper()
	port := virt.NewVirtualPort(sim)
	clock := newFakeClock()
	opts = append([]Option{WithLogger(nil), withClock(clock.Now, clock.Sleep)}, opts...)
	transport, err := NewWithPort(port, "/dev/ttyVIRT0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	return transport, port, clock
}

func tp() []lac1.Command {
	return []lac1.Command{lac1.Cmd("TP")}
}

func TestUART_QueryStripsEcho(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(1000)
	transport, port, _ := newTestTransport(t, sim)

	lines, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1000"}, lines)
	assert.Equal(t, []string{"TP\r"}, port.Writes())
}

func TestUART_ReplyShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*virt.VirtualLAC1)
		cmds  []lac1.Command
		want  []string
	}{
		{
			name: "SetterReturnsLoneEcho",
			cmds: []lac1.Command{lac1.CmdArg("SV", 100)},
			want: []string{"SV100"},
		},
		{
			name:  "SetterWithoutEcho",
			setup: func(s *virt.VirtualLAC1) { s.SetEcho(false) },
			cmds:  []lac1.Command{lac1.CmdArg("SV", 100)},
			want:  nil,
		},
		{
			name:  "QueryWithoutEcho",
			setup: func(s *virt.VirtualLAC1) { s.SetEcho(false); s.SetPosition(-25) },
			cmds:  tp(),
			want:  []string{"-25"},
		},
		{
			name: "SeveralReplyLines",
			cmds: []lac1.Command{lac1.CmdArg("SV", 5), lac1.CmdArg("TK", 1)},
			want: []string{"SV5", "SA0", "SQ0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sim := virt.NewVirtualLAC1()
			if tt.setup != nil {
				tt.setup(sim)
			}
			transport, _, _ := newTestTransport(t, sim)

			lines, err := transport.SendBatch(tt.cmds, true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lines)
		})
	}
}

func TestUART_DeviceFault(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.InjectFault("TP", "41")
	transport, _, _ := newTestTransport(t, sim)

	_, err := transport.SendBatch(tp(), true)
	require.Error(t, err)

	var devErr *lac1.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "41", devErr.Message)
	assert.Equal(t, "TP", devErr.Line)
	code, ok := devErr.Code()
	assert.True(t, ok)
	assert.Equal(t, 41, code)
	assert.True(t, lac1.IsDeviceFault(err))
	assert.False(t, lac1.IsRetryable(err))

	trace := lac1.GetTrace(err)
	require.NotNil(t, trace)
	require.NotEmpty(t, trace.Trace)
	assert.Equal(t, lac1.TraceTX, trace.Trace[0].Direction)
	assert.Equal(t, "TP", string(trace.Trace[0].Data))
	assert.Contains(t, trace.FormatTrace(), "?41")
}

func TestUART_FlushesBeforeEachLine(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.InjectFault("TP", "41")
	transport, port, _ := newTestTransport(t, sim)

	_, err := transport.SendBatch(tp(), true)
	require.Error(t, err)
	sim.ClearFaults()

	// Unsolicited output and the prompt left after the fault are discarded
	sim.InjectOutput("garbage\r\n>")
	sim.SetPosition(7)
	lines, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, lines)
	assert.Equal(t, 2, port.Flushes())
}

func TestUART_LineTooLongWritesNothing(t *testing.T) {
	t.Parallel()

	transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())

	cmds := make([]lac1.Command, 43)
	for i := range cmds {
		cmds[i] = lac1.Cmd("NO")
	}
	_, err := transport.SendBatch(cmds, true)
	require.ErrorIs(t, err, lac1.ErrLineTooLong)
	assert.True(t, lac1.IsPrecondition(err))
	assert.Empty(t, port.Writes())
}

func TestUART_ReplyTimeout(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.DropNextPrompts(1)
	transport, _, _ := newTestTransport(t, sim,
		WithReadTimeout(10*time.Millisecond),
		WithTimeoutBudget(100*time.Millisecond))

	_, err := transport.SendBatch(tp(), true)
	require.Error(t, err)
	require.ErrorIs(t, err, lac1.ErrTransportTimeout)
	assert.True(t, lac1.IsTransportTimeout(err))
	assert.True(t, lac1.IsRetryable(err))

	// The link recovers on the next exchange
	lines, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, lines)
}

func TestUART_NoWaitReturnsImmediately(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	transport, _, _ := newTestTransport(t, sim)

	lines, err := transport.SendBatch([]lac1.Command{lac1.Cmd("MN"), lac1.Cmd("GO")}, false)
	require.NoError(t, err)
	assert.Nil(t, lines)
	assert.Equal(t, []string{"MN,GO"}, sim.ReceivedLines())
}

func TestUART_Pacing(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	transport, _, clock := newTestTransport(t, sim)

	_, err := transport.SendBatch([]lac1.Command{lac1.Cmd("MN")}, false)
	require.NoError(t, err)

	clock.Advance(40 * time.Millisecond)
	_, err = transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{60 * time.Millisecond}, clock.Sleeps())

	// A waited exchange does not delay the next line
	_, err = transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Len(t, clock.Sleeps(), 1)

	// Past the interval no sleep is needed
	_, err = transport.SendBatch([]lac1.Command{lac1.Cmd("MF")}, false)
	require.NoError(t, err)
	clock.Advance(150 * time.Millisecond)
	_, err = transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Len(t, clock.Sleeps(), 1)
}

func TestUART_ReplyArrivingDuringPacingIsFlushed(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	sim.SetPosition(1000)
	clock := newFakeClock()
	sleep := func(d time.Duration) {
		// The unwaited line is answered while the transport paces
		sim.InjectOutput("GO\r\n>")
		clock.Sleep(d)
	}
	transport, _, _ := newTestTransport(t, sim, withClock(clock.Now, sleep))

	_, err := transport.SendBatch([]lac1.Command{lac1.Cmd("GO")}, false)
	require.NoError(t, err)
	sim.ClearOutput()

	lines, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1000"}, lines)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Sleeps())
}

func TestUART_PacingInterval(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	transport, _, clock := newTestTransport(t, sim, WithMinInterval(250*time.Millisecond))

	for range 3 {
		_, err := transport.SendBatch([]lac1.Command{lac1.Cmd("NO")}, false)
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, clock.Sleeps())
}

func TestUART_ContextCancelled(t *testing.T) {
	t.Parallel()

	transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.SendBatchWithContext(ctx, tp(), true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, port.Writes())
}

func TestUART_ContextDeadlineDuringPacing(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	port := virt.NewVirtualPort(sim)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	transport, err := NewWithPort(port, "/dev/ttyVIRT0",
		WithLogger(nil),
		withClock(time.Now, func(time.Duration) { <-release }))
	require.NoError(t, err)

	_, err = transport.SendBatch([]lac1.Command{lac1.Cmd("GO")}, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = transport.SendBatchWithContext(ctx, tp(), true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"GO\r"}, port.Writes())
}

func TestUART_WriteError(t *testing.T) {
	t.Parallel()

	transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())
	port.SetWriteError(errors.New("usb reset"))

	_, err := transport.SendBatch(tp(), true)
	require.ErrorIs(t, err, lac1.ErrTransportWrite)
	assert.True(t, lac1.IsRetryable(err))
}

func TestUART_ReadError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cause     error
		name      string
		wantFatal bool
	}{
		{name: "AdapterGone", cause: syscall.ENXIO, wantFatal: true},
		{name: "Glitch", cause: errors.New("framing error"), wantFatal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())
			port.SetReadError(tt.cause)

			_, err := transport.SendBatch(tp(), true)
			require.ErrorIs(t, err, lac1.ErrTransportRead)
			assert.Equal(t, tt.wantFatal, lac1.IsFatal(err))
			assert.Equal(t, !tt.wantFatal, lac1.IsRetryable(err))
		})
	}
}

// eintrPort fails Drain with an interrupted system call a number of times
type eintrPort struct {
	*virt.VirtualPort
	failures int
	drains   int
}

func (p *eintrPort) Drain() error {
	p.drains++
	if p.drains <= p.failures {
		return errors.New("drain: interrupted system call")
	}
	return nil
}

func TestUART_DrainRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failures int
		wantErr  bool
	}{
		{name: "NoFailure", failures: 0},
		{name: "RecoversAfterEINTR", failures: 2},
		{name: "GivesUp", failures: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			port := &eintrPort{VirtualPort: virt.NewVirtualPort(virt.NewVirtualLAC1()), failures: tt.failures}
			clock := newFakeClock()
			transport, err := NewWithPort(port, "/dev/ttyVIRT0", WithLogger(nil), withClock(clock.Now, clock.Sleep))
			require.NoError(t, err)

			_, err = transport.SendBatch(tp(), true)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "drain failed")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestUART_Close(t *testing.T) {
	t.Parallel()

	transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())
	assert.True(t, transport.IsConnected())

	require.NoError(t, transport.Close())
	assert.True(t, port.IsClosed())
	assert.False(t, transport.IsConnected())
	require.NoError(t, transport.Close())

	_, err := transport.SendBatch(tp(), true)
	require.ErrorIs(t, err, lac1.ErrTransportClosed)
	assert.True(t, lac1.IsFatal(err))
}

func TestUART_TypeAndPortName(t *testing.T) {
	t.Parallel()

	transport, _, _ := newTestTransport(t, virt.NewVirtualLAC1())
	assert.Equal(t, lac1.TransportUART, transport.Type())
	assert.Equal(t, "/dev/ttyVIRT0", transport.PortName())
}

func TestUART_SetTimeout(t *testing.T) {
	t.Parallel()

	transport, port, _ := newTestTransport(t, virt.NewVirtualLAC1())
	assert.Equal(t, platformReadTimeout(), port.ReadTimeout())

	require.NoError(t, transport.SetTimeout(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, port.ReadTimeout())

	err := transport.SetTimeout(0)
	require.ErrorIs(t, err, lac1.ErrInvalidParameter)
}

func TestUART_NewWithPortNil(t *testing.T) {
	t.Parallel()

	_, err := NewWithPort(nil, "/dev/null")
	require.ErrorIs(t, err, lac1.ErrInvalidParameter)
}

func TestUART_FactoryOpenFails(t *testing.T) {
	t.Parallel()

	factory := Factory(WithLogger(nil))
	_, err := factory("/dev/lac1-does-not-exist", lac1.DefaultBaudRate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open UART port")
}

func TestUART_Logging(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := lac1.NewLogger(true)
	logger.SetConsole(&buf)

	sim := virt.NewVirtualLAC1()
	transport, _, _ := newTestTransport(t, sim, WithLogger(logger))
	_, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "sent TP")
	assert.Contains(t, out, "received 0")
	assert.Contains(t, out, "received >")
}

func jitterConfig(seed uint64) virt.JitterConfig {
	return virt.JitterConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
		IdleReadPercent:  20,
		Seed:             seed,
	}
}

func TestUART_Jittery_Exchanges(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint64{1, 2, 3, 42} {
		sim := virt.NewVirtualLAC1()
		port := virt.NewJitteryVirtualPort(sim, jitterConfig(seed))
		transport, err := NewWithPort(port, "/dev/ttyVIRT0", WithLogger(nil), WithMinInterval(0))
		require.NoError(t, err)

		for pos := range 5 {
			sim.SetPosition(pos * 1000)
			lines, err := transport.SendBatch(tp(), true)
			require.NoError(t, err, "seed %d", seed)
			assert.Equal(t, []string{strconv.Itoa(pos * 1000)}, lines)
		}

		lines, err := transport.SendBatch([]lac1.Command{lac1.CmdArg("TK", 1)}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"SV0", "SA0", "SQ0"}, lines)
		require.NoError(t, transport.Close())
	}
}

func TestUART_Jittery_FaultThenRecover(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualLAC1()
	port := virt.NewJitteryVirtualPort(sim, jitterConfig(9))
	transport, err := NewWithPort(port, "/dev/ttyVIRT0", WithLogger(nil), WithMinInterval(0))
	require.NoError(t, err)
	defer func() { _ = transport.Close() }()

	sim.InjectFault("MA", "ARGUMENT ERROR")
	_, err = transport.SendBatch([]lac1.Command{lac1.Cmd("PM"), lac1.CmdArg("MA", 5)}, true)
	require.True(t, lac1.IsDeviceFault(err))

	sim.ClearFaults()
	sim.SetPosition(123)
	lines, err := transport.SendBatch(tp(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"123"}, lines)
}
