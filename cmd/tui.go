// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmctl/motorstat/pkg/djimotor"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// eventLog keeps the most recent entries
type eventLog struct {
	entries []eventLogEntry
	max     int
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// tuiStyles is the shared palette of the check and drive dashboards
type tuiStyles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	err        lipgloss.Style
	warning    lipgloss.Style
	box        lipgloss.Style
	focusedBox lipgloss.Style
}

func newTUIStyles() tuiStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:        lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
	}
}

// TUI model
type model struct {
	board         *board
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *djimotor.Statistics
	events        eventLog
	anomalies     map[string]int // per motor name
	width         int
	height        int
	quitting      bool
	busClosed     bool
}

// Messages
type tickMsg time.Time
type feedbackEvent struct {
	motor     *djimotor.Motor
	feedback  djimotor.Feedback
	anomalies []djimotor.ValidationError
}
type busClosedMsg struct {
	err error
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, p := range []struct {
		n    uint64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(b *board, connInfo string, statsInterval int, showAll bool) model {
	return model{
		board:         b,
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         b.reg.Statistics(),
		events:        eventLog{max: 100},
		anomalies:     make(map[string]int),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.board.reg.ResetStatistics()
			m.anomalies = make(map[string]int)
			m.events.add("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Refresh statistics
		m.stats = m.board.reg.Statistics()
		return m, tickCmd()

	case busClosedMsg:
		m.busClosed = true
		if msg.err != nil {
			m.events.add(fmt.Sprintf("Bus error: %v", msg.err), true)
		} else {
			m.events.add("Connection closed", true)
		}

	case feedbackEvent:
		name := m.board.nameOf(msg.motor)
		if len(msg.anomalies) > 0 {
			m.anomalies[name]++
			for _, err := range msg.anomalies {
				m.events.add(fmt.Sprintf("%s: %s", name, err.Message), true)
			}
		} else if m.showAll {
			m.events.add(fmt.Sprintf("%s: %s", name, djimotor.FormatFeedback(msg.feedback)), false)
		}
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newTUIStyles()

	// Header
	var s strings.Builder
	s.WriteString(st.title.Render("MOTORSTAT - FEEDBACK CHECK"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset, 'q' quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All feedback"
			}
			return "Anomalies only"
		}())))
	s.WriteString("\n\n")

	if m.busClosed {
		s.WriteString(st.err.Render("✗ Bus closed"))
	} else if m.stats != nil && m.stats.FeedbackFrames > 0 {
		s.WriteString(st.value.Render("✓ Receiving feedback"))
	} else {
		s.WriteString(st.warning.Render("⏳ Waiting for feedback..."))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderStatistics(st))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("Motors:"))
	s.WriteString("\n")
	s.WriteString(m.renderMotors(st))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")
	logHeight := m.height - 18 - len(m.board.names) // Reserve space for header, stats and motors
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(renderEventLog(st, m.events, logHeight, m.width-4))

	return s.String()
}

func (m model) renderStatistics(st tuiStyles) string {
	stats := m.stats
	if stats == nil {
		return st.box.Render(st.header.Render("statistics disabled"))
	}
	stats.CalculateRates()

	var feedbackPercent float64
	if stats.TotalFrames > 0 {
		feedbackPercent = float64(stats.FeedbackFrames) * 100.0 / float64(stats.TotalFrames)
	}

	content := strings.Builder{}
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		st.label.Render("Total:"), st.value.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		st.label.Render("Feedback:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", stats.FeedbackFrames, feedbackPercent)),
		st.label.Render("Unmatched:"), st.header.Render(fmt.Sprintf("%d", stats.UnmatchedFrames)),
	))

	if stats.AnomalousValues > 0 {
		content.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			st.label.Render("Anomalous:"), st.warning.Render(fmt.Sprintf("%d", stats.AnomalousValues)),
			st.header.Render("over temp"), stats.OverTemperature,
			st.header.Render("over current"), stats.OverCurrent,
			st.header.Render("encoder range"), stats.EncoderRange,
		))
	}

	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		st.label.Render("Frame Rate:"), st.value.Render(fmt.Sprintf("%.1f frames/s", stats.RxRate)),
		st.label.Render("Error Rate:"), func() string {
			if stats.ErrorRate > 0 {
				return st.err.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
			}
			return st.value.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
		}(),
		st.label.Render("Running:"), st.value.Render(formatUptime(uint64(time.Since(stats.StartTime).Milliseconds()))),
	))

	return st.box.Render(content.String())
}

func (m model) renderMotors(st tuiStyles) string {
	maxAge := time.Duration(m.statsInterval) * time.Second
	content := strings.Builder{}
	for i, name := range m.board.names {
		motor := m.board.motors[name]
		fb := motor.Feedback()

		status := st.value.Render("ok    ")
		switch {
		case fb.Received.IsZero() || time.Since(fb.Received) > maxAge:
			status = st.err.Render("silent")
		case m.anomalies[name] > 0:
			status = st.warning.Render(fmt.Sprintf("%-6d", m.anomalies[name]))
		}

		content.WriteString(fmt.Sprintf("%s %s %s", st.label.Render(fmt.Sprintf("%-10s", name)), status, djimotor.FormatMotor(motor)))
		if i < len(m.board.names)-1 {
			content.WriteString("\n")
		}
	}
	if len(m.board.names) == 0 {
		content.WriteString(st.header.Render("  (no motors configured)"))
	}
	return st.box.Width(m.width - 4).Render(content.String())
}

// renderEventLog renders the last height entries of l in a box
func renderEventLog(st tuiStyles, l eventLog, height, width int) string {
	content := strings.Builder{}
	startIdx := len(l.entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	if len(l.entries) == 0 {
		content.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(l.entries); i++ {
			entry := l.entries[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				content.WriteString(fmt.Sprintf("%s %s\n",
					st.header.Render(timestamp),
					st.err.Render("✗ "+entry.message),
				))
			} else {
				content.WriteString(fmt.Sprintf("%s %s\n",
					st.header.Render(timestamp),
					st.warning.Render("ℹ "+entry.message),
				))
			}
		}
	}

	return st.box.Width(width).Render(content.String())
}
