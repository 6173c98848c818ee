// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	stats         *smabt.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	closedErr     error

	// Latest value per quantity
	values     smabt.Elements
	lastValues time.Time
	valueTable table.Model
	spinner    spinner.Model
}

// Messages
type tickMsg time.Time
type packetMsg struct {
	event streamEvent
}
type syncMsg struct {
	invalidBytes int
}
type connClosedMsg struct {
	err error
}

func newValueTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Quantity", Width: 24},
			{Title: "Value", Width: 16},
			{Title: "Unit", Width: 6},
			{Title: "Timestamp", Width: 20},
		}),
		table.WithHeight(8),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)
	return t
}

// valueRows renders elements as table rows, ordered by quantity code
func valueRows(elements smabt.Elements) []table.Row {
	rows := make([]table.Row, 0, len(elements))
	for _, q := range elements.Quantities() {
		e := elements[q]
		rows = append(rows, table.Row{
			q.String(),
			e.Value.String(),
			q.Unit(),
			e.Timestamp.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func initialModel(connInfo string, showAll bool) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         smabt.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		values:        smabt.Elements{},
		valueTable:    newValueTable(),
		spinner:       s,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
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
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case spinner.TickMsg:
		if m.synchronized {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d decode errors", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case connClosedMsg:
		m.closedErr = msg.err
		m.addLogEntry(fmt.Sprintf("Connection closed: %v", msg.err), true)

	case packetMsg:
		m.handleEvent(msg.event)
	}

	return m, nil
}

func (m *model) handleEvent(ev streamEvent) {
	ev.update(m.stats)

	switch {
	case ev.err != nil:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.err), true)

	case len(ev.validation) > 0:
		for _, v := range ev.validation {
			m.addLogEntry(fmt.Sprintf("%s: %s", ev.session.Command, v.Message), true)
		}

	case m.showAll && ev.session != nil:
		m.addLogEntry(fmt.Sprintf("%s (valid)", ev.session.Command), false)

	case m.showAll:
		m.addLogEntry(fmt.Sprintf("L1 %s from %s", ev.link.Command, ev.link.Source), false)
	}

	if len(ev.elements) > 0 {
		m.values.Merge(ev.elements)
		m.lastValues = time.Now()
		m.valueTable.SetRows(valueRows(m.values))
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	mode := "Errors only"
	if m.showAll {
		mode = "All packets"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SMASTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats, 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.closedErr != nil:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
	case !m.synchronized:
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(" Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d decode errors)", m.invalidBytes)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(m.stats.Errors()+m.stats.AnomalousValues) * 100.0 / float64(m.stats.TotalPackets)
	}

	row := func(label string, value string) string {
		return statsLabelStyle.Render(fmt.Sprintf("%-16s", label)) + statsValueStyle.Render(value) + "\n"
	}
	var stats strings.Builder
	stats.WriteString(row("Uptime:", time.Since(m.stats.StartTime).Truncate(time.Second).String()))
	stats.WriteString(row("Total packets:", fmt.Sprintf("%d", m.stats.TotalPackets)))
	stats.WriteString(row("Valid:", fmt.Sprintf("%d (%.1f%%)", m.stats.ValidPackets, validPercent)))
	stats.WriteString(row("Session:", fmt.Sprintf("%d", m.stats.SessionPackets)))
	stats.WriteString(row("Handshakes:", fmt.Sprintf("%d", m.stats.Handshakes)))
	stats.WriteString(row("FCS errors:", fmt.Sprintf("%d", m.stats.ChecksumErrors)))
	stats.WriteString(row("Framing errors:", fmt.Sprintf("%d", m.stats.FramingErrors)))
	stats.WriteString(row("Unknown cmds:", fmt.Sprintf("%d", m.stats.UnknownCommands)))
	stats.WriteString(row("Anomalies:", fmt.Sprintf("%d (%.1f%%)", m.stats.AnomalousValues, errorPercent)))
	stats.WriteString(row("Packet rate:", fmt.Sprintf("%.1f pkts/sec", m.stats.PacketRate)))
	stats.WriteString(row("Error rate:", fmt.Sprintf("%.1f errors/sec", m.stats.ErrorRate)))

	var values strings.Builder
	if len(m.values) == 0 {
		values.WriteString(headerStyle.Render("No data responses seen yet"))
	} else {
		values.WriteString(m.valueTable.View())
		values.WriteString("\n")
		values.WriteString(headerStyle.Render("Updated " + m.lastValues.Format("15:04:05")))
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(stats.String()),
		" ",
		boxStyle.Render(values.String()),
	))
	s.WriteString("\n\n")

	// Recent events, as many as fit
	s.WriteString(statsLabelStyle.Render("Recent events"))
	s.WriteString("\n")
	maxLines := max(m.height-lipgloss.Height(s.String())-2, 3)
	start := max(len(m.errorLog)-maxLines, 0)
	for _, entry := range m.errorLog[start:] {
		line := fmt.Sprintf("[%s] %s", entry.timestamp.Format("15:04:05.000"), entry.message)
		if entry.isError {
			s.WriteString(errorStyle.Render(line))
		} else {
			s.WriteString(warningStyle.Render(line))
		}
		s.WriteString("\n")
	}

	return s.String()
}
