package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/runner"
)

var (
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#98FB98"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateHookList browserState = iota
	stateHookDetail
	stateResponse
)

// browserModel walks a flow result: hook list, per-hook detail, final
// response. Detail views scroll through a viewport.
type browserModel struct {
	filename string
	model    detect.ExecutionModel
	result   *runner.FullFlowResult

	state    browserState
	selected int
	vp       viewport.Model
	ready    bool
}

func newBrowserModel(filename string, model detect.ExecutionModel, result *runner.FullFlowResult) *browserModel {
	return &browserModel{
		filename: filename,
		model:    model,
		result:   result,
		state:    stateHookList,
	}
}

func (m *browserModel) Init() tea.Cmd { return nil }

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Leave room for the title line and the help line.
		m.vp = viewport.New(msg.Width, msg.Height-4)
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateHookList && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.state == stateHookList && m.selected < len(m.result.Hooks)-1 {
				m.selected++
				return m, nil
			}

		case "enter":
			if m.state == stateHookList {
				m.state = stateHookDetail
				m.setDetailContent()
				return m, nil
			}

		case "r":
			m.state = stateResponse
			m.setDetailContent()
			return m, nil

		case "esc":
			m.state = stateHookList
			return m, nil
		}
	}

	if m.state != stateHookList && m.ready {
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *browserModel) setDetailContent() {
	if !m.ready {
		return
	}
	var b strings.Builder
	switch m.state {
	case stateHookDetail:
		m.viewHookDetail(&b, m.result.Hooks[m.selected])
	case stateResponse:
		m.viewResponse(&b)
	}
	m.vp.SetContent(b.String())
	m.vp.GotoTop()
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(headingStyle.Render("wasmdbg"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(m.model.String()))
	b.WriteString("\n\n")

	switch m.state {
	case stateHookList:
		m.viewHookList(&b)
	case stateHookDetail, stateResponse:
		if m.ready {
			b.WriteString(m.vp.View())
			b.WriteString("\n")
			b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • r response • q quit"))
		} else if m.state == stateHookDetail {
			m.viewHookDetail(&b, m.result.Hooks[m.selected])
		} else {
			m.viewResponse(&b)
		}
	}

	return b.String()
}

func (m *browserModel) viewHookList(b *strings.Builder) {
	for i, hr := range m.result.Hooks {
		line := fmt.Sprintf("%-18s %s", hr.Hook, hookStatusLine(hr))
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • enter detail • r response • q quit"))
}

func hookStatusLine(hr *runner.HookResult) string {
	switch {
	case hr.Err != nil:
		return failStyle.Render("failed")
	case hr.ReturnCode != nil:
		s := okStyle.Render(hr.ReturnCode.String())
		if hr.Resumes > 0 {
			s += dimStyle.Render(fmt.Sprintf(" (%d resumes)", hr.Resumes))
		}
		if len(hr.Violations) > 0 {
			s += warnStyle.Render(fmt.Sprintf(" %d violations", len(hr.Violations)))
		}
		return s
	}
	return dimStyle.Render("no status")
}

func (m *browserModel) viewHookDetail(b *strings.Builder, hr *runner.HookResult) {
	b.WriteString(hookStyle.Render(hr.Hook))
	b.WriteString("  ")
	b.WriteString(hookStatusLine(hr))
	b.WriteString("\n\n")

	if hr.Err != nil {
		b.WriteString(failStyle.Render(hr.Err.Error()))
		b.WriteString("\n\n")
	}

	if len(hr.Logs) > 0 {
		b.WriteString(sectionStyle.Render("logs"))
		b.WriteString("\n")
		for _, log := range hr.Logs {
			b.WriteString("  " + log + "\n")
		}
		b.WriteString("\n")
	}

	if len(hr.Violations) > 0 {
		b.WriteString(sectionStyle.Render("property violations"))
		b.WriteString("\n")
		for _, v := range hr.Violations {
			b.WriteString("  " + warnStyle.Render(formatViolation(v)) + "\n")
		}
		b.WriteString("\n")
	}

	if hr.Before != nil && hr.After != nil {
		mutations := append(
			diffHeaders("request", hr.Before.RequestHeaders, hr.After.RequestHeaders),
			diffHeaders("response", hr.Before.ResponseHeaders, hr.After.ResponseHeaders)...)
		if len(mutations) > 0 {
			b.WriteString(sectionStyle.Render("header mutations"))
			b.WriteString("\n")
			for _, line := range mutations {
				b.WriteString("  " + line + "\n")
			}
			b.WriteString("\n")
		}
	}
}

func (m *browserModel) viewResponse(b *strings.Builder) {
	statusStyle := okStyle
	if m.result.Response.Status >= 400 {
		statusStyle = failStyle
	}
	b.WriteString(sectionStyle.Render("final response"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("%d %s", m.result.Response.Status, m.result.Response.StatusText)))
	b.WriteString("\n\n")

	for _, pair := range m.result.Response.Headers.Pairs() {
		b.WriteString(fmt.Sprintf("  %s: %s\n", pair[0], pair[1]))
	}
	if len(m.result.Response.Body) > 0 {
		b.WriteString("\n")
		if m.result.Response.Binary {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  <%d bytes of binary body>", len(m.result.Response.Body))))
		} else {
			b.WriteString(string(m.result.Response.Body))
		}
		b.WriteString("\n")
	}
}

func browseResult(filename string, model detect.ExecutionModel, result *runner.FullFlowResult) error {
	p := tea.NewProgram(newBrowserModel(filename, model, result), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
