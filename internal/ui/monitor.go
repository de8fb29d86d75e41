// Package ui provides a terminal dashboard showing live unit state and
// switch activity.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"casambi-go/internal/client"
	"casambi-go/internal/registry"
	"casambi-go/internal/switches"
)

// maxLogLines bounds the event log shown in the lower pane.
const maxLogLines = 200

// Message types for async events
type unitUpdateMsg struct {
	unit registry.Unit
}

type switchEventMsg struct {
	event switches.Event
}

// logEntry is one line in the event log.
type logEntry struct {
	when time.Time
	text string
}

// MonitorModel renders a unit table on top and an event log below.
type MonitorModel struct {
	NetworkName string

	table table.Model
	units []registry.Unit
	log   []logEntry

	width  int
	height int
}

// NewMonitorModel builds the dashboard with the registry's current units.
func NewMonitorModel(networkName string, units []registry.Unit) MonitorModel {
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Name", Width: 24},
		{Title: "Status", Width: 8},
		{Title: "State", Width: 6},
		{Title: "Level", Width: 6},
		{Title: "Updated", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(unitRows(units)),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(BorderColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(TextColor).
		Background(PrimaryColor).
		Bold(false)
	t.SetStyles(styles)

	return MonitorModel{
		NetworkName: networkName,
		table:       t,
		units:       units,
	}
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case unitUpdateMsg:
		m.applyUnit(msg.unit)
		m.appendLog(describeUnit(msg.unit))
		return m, nil

	case switchEventMsg:
		m.appendLog(describeSwitch(msg.event))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	header := BuildHeaderContent(m.NetworkName)

	logTitle := TitleStyle.Render("EVENTS")
	logBody := m.renderLog()

	help := HelpStyle.Render("↑/↓ navigate • q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		m.table.View(),
		"",
		logTitle,
		LogBoxStyle.Render(logBody),
		help,
	)
}

func (m *MonitorModel) applyUnit(u registry.Unit) {
	for i := range m.units {
		if m.units[i].ID == u.ID {
			m.units[i] = u
			m.table.SetRows(unitRows(m.units))
			return
		}
	}
	m.units = append(m.units, u)
	m.table.SetRows(unitRows(m.units))
}

func (m *MonitorModel) appendLog(text string) {
	m.log = append(m.log, logEntry{when: time.Now(), text: text})
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m MonitorModel) renderLog() string {
	visible := 8
	start := len(m.log) - visible
	if start < 0 {
		start = 0
	}

	if len(m.log) == 0 {
		return HelpStyle.Render("waiting for events...")
	}

	var lines []string
	for _, e := range m.log[start:] {
		ts := EventTimeStyle.Render(e.when.Format("15:04:05"))
		lines = append(lines, ts+" "+EventStyle.Render(e.text))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// unitRows converts units into table rows.
func unitRows(units []registry.Unit) []table.Row {
	rows := make([]table.Row, 0, len(units))
	for _, u := range units {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", u.ID),
			unitDisplayName(u),
			statusText(u),
			stateText(u),
			fmt.Sprintf("%d", u.Level),
			updatedText(u),
		})
	}
	return rows
}

func unitDisplayName(u registry.Unit) string {
	if u.Name != "" {
		return u.Name
	}
	return fmt.Sprintf("Unit %d", u.ID)
}

func statusText(u registry.Unit) string {
	if u.Online {
		return "online"
	}
	return "offline"
}

func stateText(u registry.Unit) string {
	if u.On {
		return "ON"
	}
	return "OFF"
}

func updatedText(u registry.Unit) string {
	if u.LastUpdate.IsZero() {
		return "-"
	}
	return u.LastUpdate.Format("15:04:05")
}

func describeUnit(u registry.Unit) string {
	if !u.Online {
		return fmt.Sprintf("%s went offline", unitDisplayName(u))
	}
	if u.On {
		return fmt.Sprintf("%s is ON at %d%%", unitDisplayName(u), u.Level)
	}
	return fmt.Sprintf("%s is OFF", unitDisplayName(u))
}

func describeSwitch(ev switches.Event) string {
	return fmt.Sprintf("switch %d button %d %s", ev.Unit, ev.Button, ev.Edge)
}

// RunMonitor runs the dashboard until the user quits or ctx is cancelled,
// feeding it live registry and switch events.
func RunMonitor(ctx context.Context, casa *client.Client, networkName string) error {
	model := NewMonitorModel(networkName, casa.Registry().Units())
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubState := casa.Registry().Subscribe(func(u registry.Unit) {
		p.Send(unitUpdateMsg{unit: u})
	})
	defer unsubState()

	unsubSwitch := casa.SubscribeSwitchEvents(func(ev switches.Event) {
		p.Send(switchEventMsg{event: ev})
	})
	defer unsubSwitch()

	_, err := p.Run()
	return err
}
