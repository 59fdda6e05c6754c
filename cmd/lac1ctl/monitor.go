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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ZaparooProject/go-lac1"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var monitorInterval time.Duration

var errNotTerminal = errors.New("monitor needs an interactive terminal")

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show the live position; 's' stops the axis, 'q' quits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errNotTerminal
		}

		axis, done, err := connectAxis(cmd)
		if err != nil {
			return err
		}
		defer done()

		p := tea.NewProgram(newMonitorModel(axis, portName, monitorInterval), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 200*time.Millisecond, "Position poll interval")
	rootCmd.AddCommand(monitorCmd)
}

// Messages
type monitorTickMsg time.Time

type positionMsg struct {
	err    error
	counts int
}

// monitorModel polls the position on a timer. Polls run as commands so a
// slow reply never blocks key handling.
type monitorModel struct {
	lastErr  error
	axis     *lac1.Axis
	updated  time.Time
	portName string
	interval time.Duration
	counts   int
	minimum  int
	maximum  int
	samples  int
	errors   int
	width    int
	quitting bool
}

func newMonitorModel(axis *lac1.Axis, port string, interval time.Duration) monitorModel {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return monitorModel{
		axis:     axis,
		portName: port,
		interval: interval,
		width:    60,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return m.poll()
}

func (m monitorModel) poll() tea.Cmd {
	axis := m.axis
	return func() tea.Msg {
		counts, err := axis.PositionCounts()
		return positionMsg{counts: counts, err: err}
	}
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if err := m.axis.Stop(); err != nil {
				m.errors++
				m.lastErr = err
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case positionMsg:
		if msg.err != nil {
			m.errors++
			m.lastErr = msg.err
		} else {
			m.record(msg.counts)
		}
		return m, m.tick()

	case monitorTickMsg:
		return m, m.poll()
	}

	return m, nil
}

func (m *monitorModel) record(counts int) {
	if m.samples == 0 {
		m.minimum, m.maximum = counts, counts
	}
	m.counts = counts
	m.minimum = min(m.minimum, counts)
	m.maximum = max(m.maximum, counts)
	m.samples++
	m.updated = time.Now()
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("LAC-1 MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Port: %s | Poll: %v | 's' stop, 'q' quit",
		m.portName, m.interval)))
	s.WriteString("\n\n")

	var body strings.Builder
	if m.samples == 0 {
		body.WriteString(headerStyle.Render("Waiting for the first position..."))
	} else {
		scale := m.axis.Scale()
		body.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Position:"),
			valueStyle.Render(fmt.Sprintf("%.3f mm (%d counts)", scale.CountsToMM(m.counts), m.counts))))
		body.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Min:"), valueStyle.Render(fmt.Sprintf("%.3f mm", scale.CountsToMM(m.minimum))),
			labelStyle.Render("Max:"), valueStyle.Render(fmt.Sprintf("%.3f mm", scale.CountsToMM(m.maximum)))))
		body.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Samples:"), valueStyle.Render(fmt.Sprintf("%d", m.samples))))
	}
	if m.errors > 0 {
		body.WriteString("\n")
		body.WriteString(fmt.Sprintf("%s %s",
			labelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.errors))))
		if m.lastErr != nil {
			body.WriteString("\n")
			body.WriteString(errorStyle.Render(m.lastErr.Error()))
		}
	}

	s.WriteString(boxStyle.Width(max(20, m.width-2)).Render(body.String()))
	s.WriteString("\n")
	return s.String()
}
