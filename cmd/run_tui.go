// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/jackstat/pkg/control"
	"github.com/Thermoquad/jackstat/pkg/rig"
)

const (
	monitorRefresh   = 200 * time.Millisecond
	monitorMaxEvents = 200
	rateStep         = 1.0 // mm/s per keypress
)

type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	run     *rigSession
	updates <-chan control.Update

	last      control.Update
	hasUpdate bool
	linkState string

	legs     table.Model
	events   viewport.Model
	eventLog []eventEntry

	started  time.Time
	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

type controlUpdateMsg control.Update

func newMonitorModel(run *rigSession, updates <-chan control.Update) *monitorModel {
	columns := []table.Column{
		{Title: "Leg", Width: 4},
		{Title: "X mm", Width: 9},
		{Title: "Y mm", Width: 9},
		{Title: "Z mm", Width: 8},
		{Title: "Force N", Width: 8},
		{Title: "Status", Width: 13},
		{Title: "dZ", Width: 6},
		{Title: "dX", Width: 6},
		{Title: "dY", Width: 6},
	}
	legs := table.New(
		table.WithColumns(columns),
		table.WithHeight(rig.LegCount+1),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Foreground(lipgloss.Color("12")).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	legs.SetStyles(styles)

	m := &monitorModel{
		run:     run,
		updates: updates,
		legs:    legs,
		events:  viewport.New(80, 8),
		started: time.Now(),
	}
	m.refreshLegs()
	m.addEvent(fmt.Sprintf("monitor started, %s", run.info), false)
	return m
}

func monitorTick() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func waitForUpdate(updates <-chan control.Update) tea.Cmd {
	return func() tea.Msg {
		return controlUpdateMsg(<-updates)
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTick(), waitForUpdate(m.updates))
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.events.Width = max(msg.Width-4, 20)
		m.events.Height = max(msg.Height-rig.LegCount-22, 5)
		m.renderEvents()
		return m, nil

	case monitorTickMsg:
		if m.quitting {
			return m, nil
		}
		m.pollLink()
		m.refreshLegs()
		return m, monitorTick()

	case controlUpdateMsg:
		m.applyUpdate(control.Update(msg))
		return m, waitForUpdate(m.updates)
	}

	return m, nil
}

func (m *monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.run.ctrl
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "e", " ":
		ctrl.EmergencyStop()
		m.addEvent("emergency stop requested", true)

	case "s":
		period, rate, _ := ctrl.Params()
		if err := ctrl.Start(period, rate); err != nil {
			m.addEvent(fmt.Sprintf("start: %v", err), true)
		} else {
			m.addEvent("control loop started", false)
		}

	case "x":
		ctrl.Stop()
		m.addEvent("control loop stopped", false)

	case "+", "=", "-":
		period, rate, maxStep := ctrl.Params()
		if msg.String() == "-" {
			rate = max(rate-rateStep, 0)
		} else {
			rate += rateStep
		}
		ctrl.UpdateParams(period, rate, maxStep)
		m.addEvent(fmt.Sprintf("descent rate %.1f mm/s", rate), false)

	default:
		var cmd tea.Cmd
		m.events, cmd = m.events.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) applyUpdate(u control.Update) {
	prev := m.last
	m.last = u
	first := !m.hasUpdate
	m.hasUpdate = true

	if first || prev.State != u.State {
		m.addEvent(fmt.Sprintf("controller %s: %s", u.State, u.Status), u.State == control.StateEmergencyStopped)
	}
	if u.Err != nil {
		m.addEvent(fmt.Sprintf("tick %d: %v", u.Tick, u.Err), true)
	}
	if u.Estimate.ForceAbnormal && !prev.Estimate.ForceAbnormal {
		m.addEvent(fmt.Sprintf("force out of band (mean %.1f N)", u.Estimate.MeanForce()), true)
	}
	if u.Estimate.Degraded && !prev.Estimate.Degraded {
		m.addEvent("estimate degraded: "+strings.Join(u.Estimate.DegradedReasons, "; "), true)
	}
	m.refreshLegs()
}

func (m *monitorModel) pollLink() {
	if m.run.link == nil {
		return
	}
	state := m.run.link.State().String()
	if state != m.linkState {
		if m.linkState != "" {
			m.addEvent(fmt.Sprintf("link %s => %s", m.linkState, state), state != "READY")
		}
		m.linkState = state
	}
}

func (m *monitorModel) refreshLegs() {
	commands := make(map[int]rig.MotionCommand, len(m.last.Commands))
	for _, c := range m.last.Commands {
		commands[c.ID] = c
	}

	legs := m.run.rig.Snapshot()
	rows := make([]table.Row, 0, len(legs))
	for _, l := range legs {
		c := commands[l.ID]
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", l.ID),
			fmt.Sprintf("%.1f", l.X),
			fmt.Sprintf("%.1f", l.Y),
			fmt.Sprintf("%.1f", l.Z),
			fmt.Sprintf("%.1f", l.Force),
			string(l.Status),
			fmt.Sprintf("%.2f", c.DZ),
			fmt.Sprintf("%.2f", c.DX),
			fmt.Sprintf("%.2f", c.DY),
		})
	}
	m.legs.SetRows(rows)
}

func (m *monitorModel) addEvent(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > monitorMaxEvents {
		m.eventLog = m.eventLog[len(m.eventLog)-monitorMaxEvents:]
	}
	m.renderEvents()
}

func (m *monitorModel) renderEvents() {
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	var b strings.Builder
	for _, entry := range m.eventLog {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			fmt.Fprintf(&b, "%s %s\n", timestamp, errorStyle.Render("✗ "+entry.message))
		} else {
			fmt.Fprintf(&b, "%s %s\n", timestamp, infoStyle.Render("ℹ "+entry.message))
		}
	}
	m.events.SetContent(b.String())
	m.events.GotoBottom()
}

func (m *monitorModel) View() string {
	if m.quitting {
		return "Stopping all legs...\n"
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

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	field := func(label, value string) string {
		return labelStyle.Render(label) + " " + value
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("JACKSTAT - DESCENT MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Elapsed: %s | s start  x stop  e e-stop  +/- rate  q quit",
		m.run.info, formatElapsed(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Controller
	ctrl := m.run.ctrl
	period, rate, maxStep := ctrl.Params()
	state := ctrl.State()
	stateText := valueStyle.Render(state.String())
	switch state {
	case control.StateEmergencyStopped:
		stateText = errorStyle.Render(state.String())
	case control.StateIdle:
		stateText = warningStyle.Render(state.String())
	}

	var c strings.Builder
	c.WriteString(fmt.Sprintf("%s   %s   %s\n",
		field("State:", stateText),
		field("Tick:", valueStyle.Render(fmt.Sprintf("%d", m.last.Tick))),
		field("Status:", valueStyle.Render(m.last.Status)),
	))
	c.WriteString(fmt.Sprintf("%s   %s   %s\n",
		field("Period:", valueStyle.Render(period.String())),
		field("Rate:", valueStyle.Render(fmt.Sprintf("%.1f mm/s", rate))),
		field("Max step:", valueStyle.Render(fmt.Sprintf("%.2f mm", maxStep))),
	))

	est := m.last.Estimate
	c.WriteString(fmt.Sprintf("%s   %s\n",
		field("Center:", valueStyle.Render(fmt.Sprintf("x %.1f  y %.1f  z %.1f mm", est.CenterX, est.CenterY, est.CenterZ))),
		field("Target z:", valueStyle.Render(fmt.Sprintf("%.1f mm (goal %.1f)", ctrl.TargetCenterZ(), m.run.planner.TargetDepthMM))),
	))

	corner := valueStyle.Render(fmt.Sprintf("%.1f mm", est.MaxCornerDeviation()))
	if len(est.AttitudeOutliers) > 0 {
		corner = warningStyle.Render(fmt.Sprintf("%.1f mm (legs %v)", est.MaxCornerDeviation(), est.AttitudeOutliers))
	}
	force := valueStyle.Render(fmt.Sprintf("%.1f N", est.MeanForce()))
	if est.ForceAbnormal {
		force = errorStyle.Render(fmt.Sprintf("%.1f N out of band", est.MeanForce()))
	}
	c.WriteString(fmt.Sprintf("%s   %s",
		field("Corner dev:", corner),
		field("Force:", force),
	))
	s.WriteString(boxStyle.Render(c.String()))
	s.WriteString("\n")

	// Link
	if m.run.link != nil {
		stats := m.run.stats.Snapshot()
		link := valueStyle.Render(m.linkState)
		if m.linkState != "READY" {
			link = errorStyle.Render(m.linkState)
		}
		errs := stats.CRCErrors + stats.FramingErrors + stats.MalformedFrames
		var l strings.Builder
		l.WriteString(fmt.Sprintf("%s   %s   %s   %s\n",
			field("Link:", link),
			field("Frames:", valueStyle.Render(fmt.Sprintf("%d", stats.TotalFrames))),
			field("Errors:", errorStyle.Render(fmt.Sprintf("%d", errs))),
			field("Rejected:", warningStyle.Render(fmt.Sprintf("%d", stats.Rejected))),
		))
		l.WriteString(fmt.Sprintf("%s   %s   %s",
			field("Timeouts:", warningStyle.Render(fmt.Sprintf("%d", stats.Timeouts))),
			field("Retries:", warningStyle.Render(fmt.Sprintf("%d", stats.Retries))),
			field("Rate:", valueStyle.Render(fmt.Sprintf("%.1f frames/s", stats.FrameRate))),
		))
		s.WriteString(boxStyle.Render(l.String()))
		s.WriteString("\n")
	}

	s.WriteString(boxStyle.Render(m.legs.View()))
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	width := m.width - 4
	if width < 20 {
		width = 80
	}
	s.WriteString(boxStyle.Width(width).Render(m.events.View()))

	return s.String()
}

// formatElapsed formats a duration as "1d 2h 3m 4s", omitting leading zero units
func formatElapsed(d time.Duration) string {
	totalSeconds := int64(d / time.Second)
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
