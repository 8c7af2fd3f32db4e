package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/wippyai/wasm-async/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxLog is the number of step results kept on screen.
const maxLog = 12

type interactiveModel struct {
	err    error
	runner *runner
	name   string
	table  table.Model
	log    []stepResult
}

func newInteractiveModel(name string, r *runner) *interactiveModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Rep", Width: 5},
			{Title: "Type", Width: 22},
			{Title: "Read", Width: 12},
			{Title: "Write", Width: 12},
			{Title: "Pending", Width: 9},
		}),
		table.WithHeight(8),
	)
	m := &interactiveModel{runner: r, name: name, table: t}
	m.refresh()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "enter", "n", " ":
			m.step()

		case "r":
			for !m.runner.Done() && m.err == nil {
				m.step()
			}
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *interactiveModel) step() {
	if m.runner.Done() || m.err != nil {
		return
	}
	res := m.runner.Step()
	m.err = res.Err
	m.log = append(m.log, res)
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
	m.refresh()
}

func (m *interactiveModel) refresh() {
	var rows []table.Row
	for _, snap := range m.runner.Transmits() {
		pending := ""
		if snap.ReadPending > 0 || snap.WritePending > 0 {
			pending = fmt.Sprintf("%d/%d", snap.ReadPending, snap.WritePending)
		}
		rows = append(rows, table.Row{
			strconv.FormatUint(uint64(snap.Rep), 10),
			snap.Payload,
			snap.Read.String(),
			snap.Write.String(),
			pending,
		})
	}
	m.table.SetRows(rows)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Stream Inspector"))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	for _, res := range m.log {
		line := res.String()
		if res.Err != nil {
			b.WriteString(errorStyle.Render(line))
		} else {
			b.WriteString(stepStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	case m.runner.Done():
		b.WriteString("Scenario complete.\n")
	}
	b.WriteString(helpStyle.Render("enter step • r run all • q quit"))
	return b.String()
}

func formatSnapshot(s transport.Snapshot) string {
	return fmt.Sprintf("rep %d %s read=%s write=%s", s.Rep, s.Payload, s.Read, s.Write)
}

func runInteractive(name string, r *runner) error {
	p := tea.NewProgram(newInteractiveModel(name, r), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
