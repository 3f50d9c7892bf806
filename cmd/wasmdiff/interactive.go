package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wasmdiff/harness/harness"
)

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	Padding(0, 1)

var selectedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4"))

type browserState int

const (
	stateSelectModule browserState = iota
	stateShowReport
)

type browserModel struct {
	h        *harness.Harness
	dir      string
	files    []string
	visible  []string
	filter   textinput.Model
	report   *harness.Report
	err      error
	current  string
	selected int
	state    browserState
}

type corpusLoadedMsg struct {
	err   error
	files []string
}

type reportMsg struct {
	err    error
	report *harness.Report
	path   string
}

func newBrowserModel(h *harness.Harness, dir string) *browserModel {
	filter := textinput.New()
	filter.Placeholder = "filter"
	filter.Prompt = "/ "
	filter.Width = 30
	filter.Focus()

	return &browserModel{h: h, dir: dir, filter: filter, state: stateSelectModule}
}

func (m *browserModel) Init() tea.Cmd {
	return m.loadCorpus
}

func (m *browserModel) loadCorpus() tea.Msg {
	files, err := corpusFiles(m.dir)
	if err != nil {
		return corpusLoadedMsg{err: err}
	}
	return corpusLoadedMsg{files: files}
}

func (m *browserModel) runSelected() tea.Msg {
	if m.selected >= len(m.visible) {
		return reportMsg{err: fmt.Errorf("nothing selected")}
	}
	path := m.visible[m.selected]

	data, err := os.ReadFile(path)
	if err != nil {
		return reportMsg{err: err, path: path}
	}
	report, err := m.h.RunDifferential(context.Background(), data)
	if err != nil {
		return reportMsg{err: err, path: path}
	}
	return reportMsg{report: report, path: path}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateSelectModule && m.filter.Value() != "" && msg.String() == "q" {
				break // "q" belongs to the filter text
			}
			return m, tea.Quit

		case "up", "ctrl+p":
			if m.state == stateSelectModule && m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.state == stateSelectModule && m.selected < len(m.visible)-1 {
				m.selected++
			}
			return m, nil

		case "enter":
			if m.state == stateSelectModule && len(m.visible) > 0 {
				return m, m.runSelected
			}
			if m.state == stateShowReport {
				m.state = stateSelectModule
				m.report = nil
				m.err = nil
			}
			return m, nil

		case "esc":
			if m.state == stateShowReport {
				m.state = stateSelectModule
				m.report = nil
				m.err = nil
				return m, nil
			}
			if m.filter.Value() != "" {
				m.filter.SetValue("")
				m.applyFilter()
				return m, nil
			}
			return m, tea.Quit
		}

	case corpusLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.files = msg.files
		m.applyFilter()
		return m, nil

	case reportMsg:
		m.report = msg.report
		m.err = msg.err
		m.current = msg.path
		m.state = stateShowReport
		return m, nil
	}

	if m.state == stateSelectModule {
		var cmd tea.Cmd
		before := m.filter.Value()
		m.filter, cmd = m.filter.Update(msg)
		if m.filter.Value() != before {
			m.applyFilter()
		}
		return m, cmd
	}
	return m, nil
}

func (m *browserModel) applyFilter() {
	needle := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for _, f := range m.files {
		if needle == "" || strings.Contains(strings.ToLower(f), needle) {
			m.visible = append(m.visible, f)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = 0
	}
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmdiff"))
	b.WriteString(" ")
	b.WriteString(pathStyle.Render(m.dir))
	b.WriteString("\n\n")

	if m.err != nil && m.state != stateShowReport {
		b.WriteString(mismatchStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateSelectModule:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		if len(m.visible) == 0 {
			b.WriteString(helpStyle.Render("no modules"))
		}
		for i, f := range m.visible {
			line := "  " + f
			if i == m.selected {
				line = selectedStyle.Render("> " + f)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter run • esc clear/quit"))

	case stateShowReport:
		b.WriteString(pathStyle.Render(m.current))
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(mismatchStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(renderVerdict(m.report.Verdict))
			b.WriteString("\n")
			b.WriteString(describeReport(m.report))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))
	}

	return b.String()
}

func runInteractive(h *harness.Harness, dir string) error {
	p := tea.NewProgram(newBrowserModel(h, dir), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
