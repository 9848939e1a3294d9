// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The motorstat Authors

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmctl/motorstat/pkg/djimotor"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	refreshInterval = 50 * time.Millisecond // Feedback table and chart refresh
	chartHeight     = 10
	rpmDataSet      = "rpm"
)

// Focus states
const (
	focusMotorTable = iota
	focusCurrentInput
)

// chartRange is the rotor speed range plotted per motor type
var chartRange = map[djimotor.MotorType]float64{
	djimotor.GM6020: 350,
	djimotor.M3508:  9600,
	djimotor.M2006:  19000,
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlModel is the Bubble Tea model for the drive TUI
type controlModel struct {
	ctrl     *driveController
	connInfo string

	// Motor tracking
	motorTable table.Model

	// RPM chart of the selected motor
	chart      streamlinechart.Model
	chartMotor string

	// Monitoring
	stats  *djimotor.Statistics
	events eventLog

	// Control
	currentInput textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctrl *driveController) controlModel {
	// Initialize text input for the current setpoint
	ti := textinput.New()
	ti.Placeholder = "0"
	ti.CharLimit = 6
	ti.Width = 10

	columns := []table.Column{
		{Title: "Motor", Width: 10},
		{Title: "Type", Width: 7},
		{Title: "ID", Width: 3},
		{Title: "Setpoint", Width: 8},
		{Title: "Angle", Width: 7},
		{Title: "RPM", Width: 6},
		{Title: "Current", Width: 7},
		{Title: "Temp", Width: 5},
		{Title: "Age", Width: 8},
	}
	motorTable := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(len(ctrl.cfg.Motors)+1),
	)

	_, connInfo := ctrl.getBoard()
	m := controlModel{
		ctrl:         ctrl,
		connInfo:     connInfo,
		motorTable:   motorTable,
		events:       eventLog{max: 100},
		currentInput: ti,
		focusedField: focusMotorTable,
		width:        80,
		height:       24,
	}
	m.refreshRows()
	m.resetChart()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartWidth(), chartHeight)

	case controlTickMsg:
		b, _ := m.ctrl.getBoard()
		m.stats = b.reg.Statistics()
		m.refreshRows()
		if name := m.selectedMotor(); name != m.chartMotor {
			m.resetChart()
		}
		if motor, ok := b.motors[m.chartMotor]; ok {
			m.chart.PushDataSet(rpmDataSet, float64(motor.RPM()))
			m.chart.DrawAll()
		}
		return m, controlTickCmd()

	case connectionLostMsg:
		m.connectionLost = true
		m.events.add(msg.String(), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.events.add(msg.String(), false)

	case sendErrorMsg:
		m.events.add(msg.String(), true)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusCurrentInput {
		m.currentInput, cmd = m.currentInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusCurrentInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		return m.toggleFocus(), nil

	case "enter":
		if m.focusedField == focusCurrentInput {
			return m.applySetpoint(), nil
		}
		return m.toggleFocus(), nil

	case "esc":
		if m.focusedField == focusCurrentInput {
			m.currentInput.SetValue("")
			return m.toggleFocus(), nil
		}

	case " ", "s":
		if m.focusedField == focusMotorTable {
			m.ctrl.stopAll()
			m.events.add("All setpoints zeroed", false)
			return m, nil
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusCurrentInput {
		m.currentInput, cmd = m.currentInput.Update(msg)
	} else {
		m.motorTable, cmd = m.motorTable.Update(msg)
	}
	return m, cmd
}

func (m controlModel) toggleFocus() controlModel {
	if m.focusedField == focusMotorTable {
		m.focusedField = focusCurrentInput
		m.motorTable.Blur()
		m.currentInput.SetValue(strconv.Itoa(int(m.ctrl.setpoint(m.selectedMotor()))))
		m.currentInput.CursorEnd()
		m.currentInput.Focus()
	} else {
		m.focusedField = focusMotorTable
		m.currentInput.Blur()
		m.motorTable.Focus()
	}
	return m
}

func (m controlModel) applySetpoint() controlModel {
	name := m.selectedMotor()
	value, err := strconv.ParseInt(strings.TrimSpace(m.currentInput.Value()), 10, 32)
	if err != nil {
		m.events.add(fmt.Sprintf("Invalid setpoint %q", m.currentInput.Value()), true)
		return m
	}
	if m.connectionLost {
		m.events.add("Setpoint stored, connection lost", true)
	}
	if err := m.ctrl.setCurrent(name, int32(value)); err != nil {
		m.events.add(err.Error(), true)
		return m
	}
	m.events.add(fmt.Sprintf("%s setpoint %d", name, value), false)
	return m.toggleFocus()
}

func (m controlModel) View() string {
	if m.quitting {
		return "Stopping motors...\n"
	}

	st := newTUIStyles()
	var s strings.Builder

	// Header
	helpText := "q=quit Tab=edit s=stop all"
	s.WriteString(st.title.Render("MOTORSTAT DRIVE"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %d Hz | %s", connStatus, m.ctrl.cfg.Hz, helpText)))
	s.WriteString("\n\n")

	// Motor table
	tableStyle := st.box
	if m.focusedField == focusMotorTable {
		tableStyle = st.focusedBox
	}
	s.WriteString(tableStyle.Render(m.motorTable.View()))
	s.WriteString("\n")

	// Setpoint entry
	s.WriteString(m.renderControlPanel(st))
	s.WriteString("\n\n")

	// RPM chart
	s.WriteString(st.label.Render(fmt.Sprintf("RPM %s", m.chartMotor)))
	s.WriteString("\n")
	s.WriteString(st.box.Render(m.chart.View()))
	s.WriteString("\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(st))
	s.WriteString("\n")

	// Event log
	s.WriteString(renderEventLog(st, m.events, 6, m.width-4))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(st tuiStyles) string {
	name := m.selectedMotor()
	if name == "" {
		return st.header.Render("No motor selected")
	}

	var s strings.Builder
	s.WriteString(fmt.Sprintf("%s %s  ", st.label.Render("Selected:"), name))
	s.WriteString(st.label.Render("Setpoint: "))
	if m.focusedField == focusCurrentInput {
		s.WriteString(m.currentInput.View())
		s.WriteString(st.header.Render("  Enter=apply Esc=cancel"))
	} else {
		s.WriteString(st.value.Render(fmt.Sprintf("[%d]", m.ctrl.setpoint(name))))
	}
	return s.String()
}

func (m controlModel) renderStatisticsBar(st tuiStyles) string {
	if m.stats == nil {
		return ""
	}
	stats := *m.stats
	stats.CalculateRates()

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		st.label.Render("Rx:"), st.value.Render(fmt.Sprintf("%.0f/s", stats.RxRate)),
		st.label.Render("Tx:"), st.value.Render(fmt.Sprintf("%.0f/s", stats.TxRate)),
		st.label.Render("Send Errors:"), func() string {
			if stats.TxErrors > 0 {
				return st.err.Render(fmt.Sprintf("%d", stats.TxErrors))
			}
			return st.value.Render("0")
		}(),
		st.label.Render("Anomalies:"), func() string {
			if stats.AnomalousValues > 0 {
				return st.warning.Render(fmt.Sprintf("%d", stats.AnomalousValues))
			}
			return st.value.Render("0")
		}(),
	)

	return st.box.Width(m.width - 4).Render(content)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

// refreshRows rebuilds the table from the live motors
func (m *controlModel) refreshRows() {
	b, _ := m.ctrl.getBoard()
	rows := make([]table.Row, 0, len(b.names))
	for _, name := range b.names {
		motor := b.motors[name]
		fb := motor.Feedback()
		age := "never"
		if !fb.Received.IsZero() {
			age = time.Since(fb.Received).Truncate(time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			name,
			motor.Type().String(),
			strconv.Itoa(int(motor.ID())),
			strconv.Itoa(int(m.ctrl.setpoint(name))),
			fmt.Sprintf("%.1f°", fb.Angle()),
			strconv.Itoa(int(fb.RPM)),
			strconv.Itoa(int(fb.Current)),
			fmt.Sprintf("%d°C", fb.Temperature),
			age,
		})
	}
	m.motorTable.SetRows(rows)
}

func (m controlModel) selectedMotor() string {
	row := m.motorTable.SelectedRow()
	if row == nil {
		return ""
	}
	return row[0]
}

func (m controlModel) chartWidth() int {
	w := m.width - 6
	if w < 40 {
		w = 40
	}
	return w
}

// resetChart starts a new chart scaled for the selected motor's type
func (m *controlModel) resetChart() {
	m.chartMotor = m.selectedMotor()
	limit := chartRange[djimotor.GM6020]
	if mc, ok := m.ctrl.cfg.Motor(m.chartMotor); ok {
		if typ, err := mc.MotorType(); err == nil {
			limit = chartRange[typ]
		}
	}
	m.chart = streamlinechart.New(m.chartWidth(), chartHeight,
		streamlinechart.WithYRange(-limit, limit),
	)
	m.chart.SetDataSetStyles(rpmDataSet, runes.ThinLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("10")))
}
