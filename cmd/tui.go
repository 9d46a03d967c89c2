// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/snowcap/pkg/diag"
	"github.com/Thermoquad/snowcap/pkg/hostio"
)

const (
	focusMessages = iota
	focusComposer
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// messageItem is a relayed message in the message list
type messageItem struct {
	msg *diag.Message
}

func (i messageItem) Title() string {
	return diag.FormatPayload(i.msg.Payload)
}

func (i messageItem) Description() string {
	return fmt.Sprintf("%s  %s  lqi %s %s",
		i.msg.Timestamp.Format("15:04:05.000"),
		diag.FormatRSSI(i.msg),
		diag.FormatLQI(i.msg),
		diag.FormatLinkQuality(i.msg.LQI, 10))
}

func (i messageItem) FilterValue() string { return string(i.msg.Payload) }

// TUI model
type monitorModel struct {
	connInfo string
	out      io.Writer

	stats         *diag.Statistics
	last          *diag.Message
	messages      list.Model
	maxMessages   int
	eventLog      []eventLogEntry
	maxLogEntries int

	composer     textinput.Model
	focusedField int

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

// Messages
type monitorTickMsg time.Time

type connectionLostMsg struct {
	err error
}

type sendResultMsg struct {
	line string
	err  error
}

func newMonitorModel(connInfo string, out io.Writer) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "type a message, enter to send"
	ti.CharLimit = 255
	ti.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	messages := list.New([]list.Item{}, delegate, 60, 12)
	messages.Title = "Messages"
	messages.SetShowStatusBar(false)
	messages.SetShowHelp(false)
	messages.SetFilteringEnabled(false)

	return monitorModel{
		connInfo:      connInfo,
		out:           out,
		stats:         diag.NewStatistics(),
		messages:      messages,
		maxMessages:   200,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		composer:      ti,
		focusedField:  focusMessages,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// sendLine writes line to the modem's serial input
func sendLine(out io.Writer, line string) tea.Cmd {
	return func() tea.Msg {
		_, err := out.Write([]byte(line + "\n"))
		return sendResultMsg{line: line, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.messages.SetSize(m.width-4, m.listHeight())

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case streamMsg:
		if msg.err != nil {
			m.stats.Update(nil, msg.err)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.err), true)
		}
		for _, relayed := range msg.messages {
			m.stats.Update(relayed, nil)
			m.last = relayed
			m.addMessage(relayed)
		}

	case sendResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("SEND FAILED: %v", msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("sent %s", diag.FormatPayload([]byte(msg.line+"\n"))), false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		if msg.err != nil && !hostio.IsClosed(msg.err) {
			m.addLogEntry(fmt.Sprintf("CONNECTION LOST: %v", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		if m.focusedField == focusMessages {
			m.focusedField = focusComposer
			return m, m.composer.Focus()
		}
		m.focusedField = focusMessages
		m.composer.Blur()
		return m, nil
	}

	if m.focusedField == focusComposer {
		switch msg.String() {
		case "enter":
			line := m.composer.Value()
			if line == "" || m.connectionLost {
				return m, nil
			}
			m.composer.Reset()
			return m, sendLine(m.out, line)
		case "esc":
			m.focusedField = focusMessages
			m.composer.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return m, cmd
	}

	if msg.String() == "q" {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.messages, cmd = m.messages.Update(msg)
	return m, cmd
}

func (m *monitorModel) addMessage(msg *diag.Message) {
	items := append(m.messages.Items(), messageItem{msg: msg})
	if len(items) > m.maxMessages {
		items = items[len(items)-m.maxMessages:]
	}
	m.messages.SetItems(items)
	m.messages.Select(len(items) - 1)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) listHeight() int {
	h := m.height - 20 // header, stats, composer and event log
	if h < 6 {
		h = 6
	}
	return h
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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("SNOWCAP - LINK MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | tab: switch focus | q: quit", m.connInfo)))
	s.WriteString("\n\n")

	if m.connectionLost {
		s.WriteString(errorStyle.Render("✗ Connection lost"))
		s.WriteString("\n\n")
	}

	// Statistics
	m.stats.CalculateRates()
	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Messages:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalMessages)),
		statsLabelStyle.Render("Bytes:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.PayloadBytes)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.stats.MessageRate)),
	))

	if avg, ok := m.stats.AverageRSSI(); ok {
		statsContent.WriteString(fmt.Sprintf("%s %s %s\n",
			statsLabelStyle.Render("RSSI:"),
			statsValueStyle.Render(fmt.Sprintf("%.1f dBm avg", avg)),
			headerStyle.Render(fmt.Sprintf("(min %.1f, max %.1f)", m.stats.MinRSSI, m.stats.MaxRSSI)),
		))
	}
	if m.last != nil {
		statsContent.WriteString(fmt.Sprintf("%s %s %s\n",
			statsLabelStyle.Render("Link:"),
			statsValueStyle.Render(diag.FormatLinkQuality(m.last.LQI, 20)),
			headerStyle.Render("lqi "+diag.FormatLQI(m.last)),
		))
	}

	errorCount := m.stats.LineOverflows + m.stats.DecodeErrors
	placeholders := m.stats.RSSIPlaceholder + m.stats.LQIPlaceholder
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Errors:"), func() string {
			if errorCount > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", errorCount))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Placeholders:"), func() string {
			if placeholders > 0 {
				return warningStyle.Render(fmt.Sprintf("%d", placeholders))
			}
			return statsValueStyle.Render("0")
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Messages
	listBox := boxStyle
	if m.focusedField == focusMessages {
		listBox = focusedBoxStyle
	}
	s.WriteString(listBox.Width(m.width - 4).Render(m.messages.View()))
	s.WriteString("\n")

	// Composer
	composerBox := boxStyle
	if m.focusedField == focusComposer {
		composerBox = focusedBoxStyle
	}
	s.WriteString(composerBox.Width(m.width - 4).Render(statsLabelStyle.Render("Send: ") + m.composer.View()))
	s.WriteString("\n")

	// Event log
	logContent := strings.Builder{}
	start := len(m.eventLog) - 3
	if start < 0 {
		start = 0
	}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[start:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(strings.TrimRight(logContent.String(), "\n")))

	return s.String()
}
