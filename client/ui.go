package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/puyokura/nchat/model"
)

// Outbox is the UI's only way to reach the network.
type Outbox interface {
	Submit(text string)
	Shutdown()
}

type lineMsg Line

type linesClosedMsg struct{}

func waitForLine(lines <-chan Line) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-lines
		if !ok {
			return linesClosedMsg{}
		}
		return lineMsg(line)
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	ruleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#505050"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	chatStyle   = lipgloss.NewStyle()
)

func styleFor(code model.ControlCode) lipgloss.Style {
	switch code {
	case model.Error:
		return errorStyle
	case model.JoinGroup, model.LeaveGroup, model.ExitServer:
		return noticeStyle
	default:
		return chatStyle
	}
}

type chatModel struct {
	outbox   Outbox
	lines    <-chan Line
	title    string
	viewport viewport.Model
	input    textinput.Model
	history  []string
	received int
	ready    bool
	quitting bool
}

func newChatModel(outbox Outbox, lines <-chan Line, title string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = model.MaxDatagramSize / 2
	ti.Width = 20

	return chatModel{
		outbox: outbox,
		lines:  lines,
		title:  title,
		input:  ti,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.lines))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC, tea.KeyCtrlD:
			return m.quit()
		case tea.KeyEnter:
			if text := m.input.Value(); text != "" {
				m.input.SetValue("")
				m.outbox.Submit(text)
			}
			return m, nil
		case tea.KeyDelete:
			if msg.Alt {
				m.history = nil
				m.refresh()
			} else {
				m.input.SetValue("")
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		// title, rule and input
		chrome := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chrome
		}
		m.input.Width = msg.Width
		m.refresh()

	case lineMsg:
		m.received++
		m.append(styleFor(msg.Code).Render(msg.Text))
		return m, waitForLine(m.lines)

	case linesClosedMsg:
		m.append(errorStyle.Render("connection closed, press Esc to quit"))
		return m, nil
	}

	m.input, tiCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// quit sends the farewell exactly once, however many quit keys arrive.
func (m chatModel) quit() (tea.Model, tea.Cmd) {
	if !m.quitting {
		m.quitting = true
		m.outbox.Shutdown()
	}
	return m, tea.Quit
}

func (m *chatModel) append(line string) {
	m.history = append(m.history, line)
	m.refresh()
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		titleStyle.Render(m.title),
		m.viewport.View(),
		ruleStyle.Render(strings.Repeat("─", m.viewport.Width)),
		m.input.View(),
	)
}
