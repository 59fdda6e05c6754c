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
	"io"
	"strings"
	"time"

	"github.com/ZaparooProject/go-lac1"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// benchConfig describes a back-and-forth run
type benchConfig struct {
	limits      limits
	loops       int
	distance    float64
	pollTimeout time.Duration
	skipHome    bool
}

// benchResult summarises a completed run
type benchResult struct {
	elapsed   time.Duration
	loops     int
	distance  float64
	travelled float64
	polls     int
	roundTrip bool
}

func (r benchResult) speed() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return r.travelled / r.elapsed.Seconds()
}

var (
	bench  benchConfig
	travel benchConfig

	// clock is replaced in tests
	clock = time.Now
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Move back and forth and report the average speed",
	Long: `Home the axis, then repeatedly start a move to DISTANCE and back to 0
without waiting, polling the position until each target is reached.
A dot is printed per loop and the loop count every 100 loops.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		result, err := runBench(axis, bench, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary("Back and forth", result))
		return nil
	},
}

var travelCmd = &cobra.Command{
	Use:   "travel",
	Short: "Time a single move from 0 to DISTANCE",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		result, err := runTravel(axis, travel)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary("Single move", result))
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVarP(&bench.loops, "loops", "n", 1000, "Number of back-and-forth loops")
	benchCmd.Flags().Float64VarP(&bench.distance, "distance", "d", 2, "Loop distance in mm")
	benchCmd.Flags().DurationVar(&bench.pollTimeout, "poll-timeout", 10*time.Second,
		"Give up when a target is not reached within this time")
	benchCmd.Flags().BoolVar(&bench.skipHome, "skip-home", false, "Do not home before the run")
	bench.limits.register(benchCmd, limits{velocity: 1000, acceleration: 30000, torque: 10000})

	travelCmd.Flags().Float64VarP(&travel.distance, "distance", "d", 20, "Move distance in mm")
	travelCmd.Flags().BoolVar(&travel.skipHome, "skip-home", false, "Do not home before the run")
	travel.limits.register(travelCmd, limits{velocity: 5000, acceleration: 30000, torque: 10000})

	rootCmd.AddCommand(benchCmd, travelCmd)
}

func prepare(axis *lac1.Axis, cfg benchConfig) error {
	if cfg.distance <= 0 {
		return fmt.Errorf("%w: distance must be positive", lac1.ErrInvalidParameter)
	}
	if !cfg.skipHome {
		if err := axis.Home(); err != nil {
			return err
		}
	}
	if err := cfg.limits.apply(axis); err != nil {
		return err
	}
	_, err := axis.MoveAbsolute(0, lac1.MoveOptions{Wait: true})
	return err
}

// runBench starts each move without waiting and polls the position until the
// target is passed.
func runBench(axis *lac1.Axis, cfg benchConfig, out io.Writer) (benchResult, error) {
	if cfg.loops < 1 {
		return benchResult{}, fmt.Errorf("%w: loops must be at least 1", lac1.ErrInvalidParameter)
	}
	if err := prepare(axis, cfg); err != nil {
		return benchResult{}, err
	}

	target := axis.Scale().MMToCounts(cfg.distance)
	result := benchResult{distance: cfg.distance, roundTrip: true}
	start := clock()

	for n := 1; n <= cfg.loops; n++ {
		polls, err := moveAndPoll(axis, target, cfg.pollTimeout, func(p int) bool { return p >= target })
		result.polls += polls
		if err != nil {
			return result, fmt.Errorf("loop %d: %w", n, err)
		}
		polls, err = moveAndPoll(axis, 0, cfg.pollTimeout, func(p int) bool { return p <= 0 })
		result.polls += polls
		if err != nil {
			return result, fmt.Errorf("loop %d: %w", n, err)
		}

		result.loops = n
		fmt.Fprint(out, ".")
		if n%100 == 0 {
			fmt.Fprintln(out, n)
		}
	}
	if result.loops%100 != 0 {
		fmt.Fprintln(out)
	}

	result.elapsed = clock().Sub(start)
	result.travelled = float64(result.loops) * cfg.distance * 2
	return result, nil
}

func moveAndPoll(axis *lac1.Axis, target int, timeout time.Duration, reached func(int) bool) (int, error) {
	if _, err := axis.MoveAbsoluteCounts(target, lac1.MoveOptions{}); err != nil {
		return 0, err
	}

	deadline := clock().Add(timeout)
	for polls := 1; ; polls++ {
		pos, err := axis.PositionCounts()
		if err != nil {
			return polls, err
		}
		if reached(pos) {
			return polls, nil
		}
		if timeout > 0 && clock().After(deadline) {
			return polls, fmt.Errorf("target %d not reached within %v, at %d", target, timeout, pos)
		}
	}
}

// runTravel times one waited move over the full distance.
func runTravel(axis *lac1.Axis, cfg benchConfig) (benchResult, error) {
	if err := prepare(axis, cfg); err != nil {
		return benchResult{}, err
	}

	start := clock()
	if _, err := axis.MoveAbsolute(cfg.distance, lac1.MoveOptions{Wait: true}); err != nil {
		return benchResult{}, err
	}
	return benchResult{
		elapsed:   clock().Sub(start),
		loops:     1,
		distance:  cfg.distance,
		travelled: cfg.distance,
	}, nil
}

func renderSummary(title string, r benchResult) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Width(14)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	rows := [][2]string{{"Travelled", fmt.Sprintf("%.2f mm", r.travelled)}}
	if r.roundTrip {
		rows = append(rows,
			[2]string{"Loops", fmt.Sprintf("%d", r.loops)},
			[2]string{"Loop distance", fmt.Sprintf("%.2f mm", r.distance*2)},
		)
	}
	rows = append(rows,
		[2]string{"Total time", fmt.Sprintf("%.2f s", r.elapsed.Seconds())},
		[2]string{"Avg speed", fmt.Sprintf("%.2f mm/s", r.speed())},
	)

	var body strings.Builder
	body.WriteString(titleStyle.Render(title))
	for _, row := range rows {
		body.WriteString("\n")
		body.WriteString(labelStyle.Render(row[0] + ":"))
		body.WriteString(valueStyle.Render(row[1]))
	}
	return boxStyle.Render(body.String())
}
