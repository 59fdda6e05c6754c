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

// Package testing provides test utilities including a wire-level LAC-1
// simulator.
//
// The VirtualLAC1 type implements io.ReadWriter and behaves like a SMAC LAC-1
// on the serial line: it echoes each command line, prints one reply line per
// query, marks faults with '?' and prints the '>' prompt when it is ready for
// the next line. Motion is modelled coarsely on an encoder with hard limits
// so that homing procedures can run against it.
package testing

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/ZaparooProject/go-lac1/internal/syncutil"
)

// Wire protocol bytes and limits
const (
	lineTerminator = '\r'
	replyNewline   = "\r\n"
	readyPrompt    = ">"
	errorMarker    = "?"
	escapeByte     = 0x1B
	maxLineLength  = 127
)

// Simulator defaults
const (
	// DefaultLowerLimit is the physical encoder count of the lower hard stop
	DefaultLowerLimit = -3000
	// DefaultUpperLimit is the physical encoder count of the upper hard stop
	DefaultUpperLimit = 30000
	// DefaultVelocityStep is the distance covered per servo tick in velocity mode
	DefaultVelocityStep = 200
	// PositionErrorAddress is the memory word that reads back the position error
	PositionErrorAddress = 538
	// maxMacroSteps stops a macro that never terminates
	maxMacroSteps = 100000
	// msPerTick converts WA milliseconds into servo ticks
	msPerTick = 10
)

// Device fault texts
const (
	FaultInvalidCommand = "INVALID COMMAND"
	FaultArgument       = "ARGUMENT ERROR"
	FaultMacroUndefined = "MACRO UNDEFINED"
	FaultMacroRunaway   = "MACRO RUNAWAY"
	FaultLineTooLong    = "LINE TOO LONG"
)

// MotionMode is the LAC-1 control mode
type MotionMode int

const (
	PositionMode MotionMode = iota // PM, moves to a target count
	VelocityMode                   // VM, runs at constant velocity
)

// SimulatorState is a snapshot of the simulated controller
type SimulatorState struct {
	Params        map[string]int
	Position      int // reported encoder count
	Physical      int // encoder count relative to power on
	Target        int
	PositionError int
	Accumulator   int
	Velocity      int
	Acceleration  int
	Torque        int
	Mode          MotionMode
	Decreasing    bool
	MotorOn       bool
	Running       bool
	Echo          bool
}

type command struct {
	mnemonic string
	text     string
	arg      int
	hasArg   bool
}

// errDeviceFault is returned inside the interpreter to abort the line
type errDeviceFault struct {
	message string
}

func (e *errDeviceFault) Error() string {
	return e.message
}

func fault(message string) error {
	return &errDeviceFault{message: message}
}

// VirtualLAC1 simulates a LAC-1 at the wire protocol level.
// It implements io.ReadWriter to plug directly into transport layer tests.
// Read never blocks: with nothing to send it returns (0, nil), which the
// transport treats as a read timeout.
type VirtualLAC1 struct {
	macros         map[int][]command
	injectedFaults map[string]string
	params         map[string]int
	rxBuffer       bytes.Buffer
	txBuffer       bytes.Buffer
	received       []string
	lastError      string
	lowerLimit     int
	upperLimit     int
	velocityStep   int
	homeOvershoot  int
	physical       int
	homeOffset     int
	target         int
	positionError  int
	accumulator    int
	mu             syncutil.Mutex
	mode           MotionMode
	corruptReplies int
	dropPrompts    int
	decreasing     bool
	motorOn        bool
	running        bool
	echo           bool
}

// NewVirtualLAC1 creates a simulator at rest at position 0 with echo on,
// no macros and the default hard limits.
func NewVirtualLAC1() *VirtualLAC1 {
	v := &VirtualLAC1{}
	v.reset()
	return v
}

func (v *VirtualLAC1) reset() {
	v.macros = make(map[int][]command)
	v.injectedFaults = make(map[string]string)
	v.params = make(map[string]int)
	v.rxBuffer.Reset()
	v.txBuffer.Reset()
	v.received = nil
	v.lastError = ""
	v.lowerLimit = DefaultLowerLimit
	v.upperLimit = DefaultUpperLimit
	v.velocityStep = DefaultVelocityStep
	v.homeOvershoot = 0
	v.physical = 0
	v.homeOffset = 0
	v.target = 0
	v.positionError = 0
	v.accumulator = 0
	v.mode = PositionMode
	v.corruptReplies = 0
	v.dropPrompts = 0
	v.decreasing = false
	v.motorOn = false
	v.running = false
	v.echo = true
}

// Write implements io.Writer - receives command lines from the host.
// Each complete line is executed and its reply queued for Read.
func (v *VirtualLAC1) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, _ = v.rxBuffer.Write(data)
	for {
		idx := bytes.IndexByte(v.rxBuffer.Bytes(), lineTerminator)
		if idx < 0 {
			break
		}
		line := string(v.rxBuffer.Next(idx + 1)[:idx])
		v.processLine(line)
	}
	return len(data), nil
}

// Read implements io.Reader - returns reply bytes to the host.
func (v *VirtualLAC1) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// ClearOutput discards reply bytes not read yet, like flushing the host's
// input buffer.
func (v *VirtualLAC1) ClearOutput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.txBuffer.Reset()
}

// InjectOutput queues raw bytes as if the device had sent them.
func (v *VirtualLAC1) InjectOutput(data string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, _ = v.txBuffer.WriteString(data)
}

// InjectFault makes every command with the mnemonic fail with message
// until ClearFaults is called.
func (v *VirtualLAC1) InjectFault(mnemonic, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectedFaults[strings.ToUpper(mnemonic)] = message
}

// ClearFaults removes all injected faults.
func (v *VirtualLAC1) ClearFaults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.injectedFaults)
}

// CorruptNextReplies garbles the next n query reply lines.
func (v *VirtualLAC1) CorruptNextReplies(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptReplies = n
}

// DropNextPrompts suppresses the ready prompt of the next n lines.
func (v *VirtualLAC1) DropNextPrompts(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropPrompts = n
}

// SetEcho turns command echo on or off, like EN and EF.
func (v *VirtualLAC1) SetEcho(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.echo = on
}

// SetPosition places the axis so that it reports counts.
func (v *VirtualLAC1) SetPosition(counts int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.physical = v.clamp(counts + v.homeOffset)
	v.target = v.physical
}

// SetLimits sets the physical hard stops in encoder counts from power on.
func (v *VirtualLAC1) SetLimits(lower, upper int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lowerLimit, v.upperLimit = lower, upper
	v.physical = v.clamp(v.physical)
}

// SetVelocityStep sets the distance covered per servo tick in velocity mode.
func (v *VirtualLAC1) SetVelocityStep(counts int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.velocityStep = counts
}

// SetHomeOvershoot makes GH stop counts short of home, on the negative side
// for positive values.
func (v *VirtualLAC1) SetHomeOvershoot(counts int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.homeOvershoot = counts
}

// ReceivedLines returns every command line received so far.
func (v *VirtualLAC1) ReceivedLines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.received)
}

// Macro returns the stored definition of macro n in TM format.
func (v *VirtualLAC1) Macro(n int) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	body, ok := v.macros[n]
	if !ok {
		return "", false
	}
	return formatMacro(n, body), true
}

// GetState returns a snapshot of the simulator state.
func (v *VirtualLAC1) GetState() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return SimulatorState{
		Params:        maps.Clone(v.params),
		Position:      v.position(),
		Physical:      v.physical,
		Target:        v.target - v.homeOffset,
		PositionError: v.positionError,
		Accumulator:   v.accumulator,
		Velocity:      v.params["SV"],
		Acceleration:  v.params["SA"],
		Torque:        v.params["SQ"],
		Mode:          v.mode,
		Decreasing:    v.decreasing,
		MotorOn:       v.motorOn,
		Running:       v.running,
		Echo:          v.echo,
	}
}

// Reset returns the simulator to its power-on state, forgetting macros.
func (v *VirtualLAC1) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
}

func (v *VirtualLAC1) position() int {
	return v.physical - v.homeOffset
}

func (v *VirtualLAC1) clamp(physical int) int {
	return max(v.lowerLimit, min(v.upperLimit, physical))
}

func (v *VirtualLAC1) reply(line string) {
	_, _ = v.txBuffer.WriteString(line + replyNewline)
}

func (v *VirtualLAC1) replyValue(line string) {
	if v.corruptReplies > 0 {
		v.corruptReplies--
		line = "#" + line + "?"
	}
	v.reply(line)
}

func (v *VirtualLAC1) prompt() {
	if v.dropPrompts > 0 {
		v.dropPrompts--
		return
	}
	_, _ = v.txBuffer.WriteString(readyPrompt)
}

// processLine executes one command line and queues its reply.
func (v *VirtualLAC1) processLine(line string) {
	v.received = append(v.received, line)

	// ESC leaves a running macro and produces no reply
	if strings.IndexByte(line, escapeByte) >= 0 {
		v.running = false
		return
	}

	if v.echo {
		v.reply(line)
	}

	if err := v.executeLine(line); err != nil {
		v.lastError = err.Error()
		v.reply(errorMarker + err.Error())
	}
	v.prompt()
}

func (v *VirtualLAC1) executeLine(line string) error {
	if len(line) > maxLineLength {
		return fault(FaultLineTooLong)
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}

	cmds, err := parseLine(line)
	if err != nil {
		return err
	}

	for i, cmd := range cmds {
		if cmd.mnemonic == "MD" {
			return v.defineMacro(cmd, cmds[i+1:])
		}
		if err := v.execute(cmd); err != nil {
			return err
		}
	}
	return nil
}

func parseLine(line string) ([]command, error) {
	parts := strings.Split(line, ",")
	cmds := make([]command, 0, len(parts))
	for _, part := range parts {
		cmd, err := parseCommand(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func parseCommand(text string) (command, error) {
	if len(text) < 2 {
		return command{}, fault(FaultInvalidCommand)
	}
	cmd := command{mnemonic: strings.ToUpper(text[:2]), text: text}
	for _, c := range cmd.mnemonic {
		if c < 'A' || c > 'Z' {
			return command{}, fault(FaultInvalidCommand)
		}
	}
	if rest := text[2:]; rest != "" {
		arg, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fault(FaultArgument)
		}
		cmd.arg, cmd.hasArg = arg, true
	}
	return cmd, nil
}

func formatMacro(n int, body []command) string {
	parts := []string{"MD" + strconv.Itoa(n)}
	for _, cmd := range body {
		parts = append(parts, cmd.text)
	}
	return strings.Join(parts, ",")
}

func (v *VirtualLAC1) defineMacro(md command, body []command) error {
	if !md.hasArg || md.arg < 0 {
		return fault(FaultArgument)
	}
	v.macros[md.arg] = slices.Clone(body)
	return nil
}

// execute runs one command outside of flow control.
//
//nolint:gocyclo,cyclop,revive // One case per LAC-1 command
func (v *VirtualLAC1) execute(cmd command) error {
	if message, ok := v.injectedFaults[cmd.mnemonic]; ok {
		return fault(message)
	}

	switch cmd.mnemonic {
	case "EN":
		v.echo = true
	case "EF":
		v.echo = false
	case "SG", "SI", "SD", "IL", "SE", "RI", "FR", "SV", "SA", "SQ":
		if !cmd.hasArg {
			return fault(FaultArgument)
		}
		v.params[cmd.mnemonic] = cmd.arg
	case "PM":
		v.mode = PositionMode
		v.running = false
	case "VM":
		v.mode = VelocityMode
	case "MN":
		v.motorOn = true
	case "MF":
		v.motorOn = false
		v.running = false
		v.target = v.physical
	case "MA":
		if !cmd.hasArg {
			return fault(FaultArgument)
		}
		v.target = cmd.arg + v.homeOffset
	case "MR":
		if !cmd.hasArg {
			return fault(FaultArgument)
		}
		v.target = v.physical + cmd.arg
	case "DI":
		v.decreasing = cmd.arg != 0
	case "GO":
		v.start()
	case "ST", "AB":
		v.running = false
		v.positionError = 0
		v.target = v.physical
	case "WS", "NO":
		// Motion in position mode completes on GO
	case "WA":
		v.advance(max(1, cmd.arg/msPerTick))
	case "DH":
		v.homeOffset = v.physical - cmd.arg
		v.target = v.physical
	case "GH":
		if v.motorOn {
			v.mode = PositionMode
			v.physical = v.clamp(v.homeOffset - v.homeOvershoot)
			v.target = v.physical
		}
	case "TP":
		v.replyValue(strconv.Itoa(v.position()))
	case "TK":
		return v.tellParams(cmd)
	case "TM":
		if body, ok := v.macros[cmd.arg]; ok {
			v.reply(formatMacro(cmd.arg, body))
		}
	case "TE":
		if v.lastError == "" {
			v.reply("0")
		} else {
			v.reply(v.lastError)
		}
	case "RM":
		clear(v.macros)
	case "RW":
		if cmd.arg == PositionErrorAddress {
			v.accumulator = v.positionError
		} else {
			v.accumulator = 0
		}
	case "MS", "MC", "MJ":
		return v.runMacro(cmd.arg)
	case "RP", "IB":
		// Flow control only has a meaning inside a macro
		return fault(FaultInvalidCommand)
	default:
		return fault(FaultInvalidCommand)
	}
	return nil
}

var paramGroups = [][]string{
	{"SG", "SI", "SD", "IL", "SE", "RI", "FR"},
	{"SV", "SA", "SQ"},
}

func (v *VirtualLAC1) tellParams(cmd command) error {
	groups := paramGroups
	if cmd.hasArg {
		if cmd.arg < 0 || cmd.arg >= len(paramGroups) {
			return fault(FaultArgument)
		}
		groups = paramGroups[cmd.arg : cmd.arg+1]
	}
	for _, group := range groups {
		for _, name := range group {
			v.reply(name + strconv.Itoa(v.params[name]))
		}
	}
	return nil
}

// start begins motion. Position moves complete at once, clamped to the hard
// stops; velocity moves progress as servo ticks pass.
func (v *VirtualLAC1) start() {
	if !v.motorOn {
		return
	}
	if v.mode == VelocityMode {
		v.running = true
		return
	}
	v.physical = v.clamp(v.target)
	v.positionError = v.target - v.physical
}

// advance lets n servo ticks pass.
func (v *VirtualLAC1) advance(n int) {
	for range n {
		if !v.running || !v.motorOn || v.mode != VelocityMode {
			return
		}
		step := v.velocityStep
		if v.decreasing {
			step = -step
		}
		next := v.clamp(v.physical + step)
		v.positionError = step - (next - v.physical)
		v.physical = next
		v.target = next
	}
}

// runMacro executes macro n. Reaching the end of a macro continues with the
// next higher defined macro; RP restarts the current one, MJ jumps, MC calls
// and returns, and IB runs the next two commands only if the accumulator is
// below its argument.
func (v *VirtualLAC1) runMacro(n int) error {
	type frame struct{ macro, pc int }

	if _, ok := v.macros[n]; !ok {
		return fault(FaultMacroUndefined)
	}

	current := frame{macro: n}
	var stack []frame

	for steps := 0; ; steps++ {
		if steps > maxMacroSteps {
			v.running = false
			return fault(FaultMacroRunaway)
		}

		body := v.macros[current.macro]
		if current.pc >= len(body) {
			if next, ok := v.nextMacro(current.macro); ok {
				current = frame{macro: next}
				continue
			}
			if len(stack) == 0 {
				return nil
			}
			current, stack = stack[len(stack)-1], stack[:len(stack)-1]
			continue
		}

		cmd := body[current.pc]
		current.pc++

		if message, ok := v.injectedFaults[cmd.mnemonic]; ok {
			return fault(message)
		}

		switch cmd.mnemonic {
		case "RP":
			current.pc = 0
		case "MJ", "MS":
			if _, ok := v.macros[cmd.arg]; !ok {
				return fault(FaultMacroUndefined)
			}
			current = frame{macro: cmd.arg}
		case "MC":
			if _, ok := v.macros[cmd.arg]; !ok {
				return fault(FaultMacroUndefined)
			}
			stack = append(stack, current)
			current = frame{macro: cmd.arg}
		case "IB":
			if v.accumulator >= cmd.arg {
				current.pc += 2
			}
		default:
			if err := v.execute(cmd); err != nil {
				return err
			}
		}

		v.advance(1)
	}
}

func (v *VirtualLAC1) nextMacro(n int) (int, bool) {
	next, found := 0, false
	for m := range v.macros {
		if m > n && (!found || m < next) {
			next, found = m, true
		}
	}
	return next, found
}
