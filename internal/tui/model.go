// Package tui is an interactive terminal stepper: pick a rule, fire it, and
// watch the e-graph change class by class.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gitrdm/eggstep/pkg/egraph"
)

const (
	defaultWidth   = 100
	viewportHeight = 18
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	addedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	rootStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// Model is the bubbletea model driving one engine.
type Model struct {
	engine   *egraph.Engine
	title    string
	labels   []egraph.RuleLabel
	cursor   int
	viewport viewport.Model

	last    *egraph.StepReport
	status  string
	err     error
	quitting bool
}

// New creates a model for e. The title is shown in the header.
func New(e *egraph.Engine, title string) Model {
	vp := viewport.New(defaultWidth, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	m := Model{
		engine:   e,
		title:    title,
		labels:   e.Rules().Labels(),
		viewport: vp,
		status:   "ready",
	}
	m.refresh()
	return m
}

// ReloadMsg replaces the engine, typically after the workspace file changed
// on disk. A message carrying Err keeps the current engine.
type ReloadMsg struct {
	Engine *egraph.Engine
	Title  string
	Err    error
}

// Run starts the full-screen program and blocks until the user quits.
// Messages received on reloads, which may be nil, swap the engine in place.
func Run(e *egraph.Engine, title string, reloads <-chan ReloadMsg) error {
	p := tea.NewProgram(New(e, title), tea.WithAltScreen())
	if reloads != nil {
		go func() {
			for msg := range reloads {
				p.Send(msg)
			}
		}()
	}
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.labels)-1 {
				m.cursor++
			}
		case "enter", " ":
			if len(m.labels) > 0 {
				m.step(egraph.Only(m.labels[m.cursor]))
			} else {
				m.step(egraph.Auto())
			}
		case "a":
			m.step(egraph.Auto())
		case "b":
			m.back()
		case "e":
			m.extract()
		case "r":
			m.reset()
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil

	case ReloadMsg:
		m.reload(msg)

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}
	return m, nil
}

func (m *Model) reload(msg ReloadMsg) {
	if msg.Err != nil {
		m.err = fmt.Errorf("reload: %w", msg.Err)
		return
	}
	m.engine = msg.Engine
	if msg.Title != "" {
		m.title = msg.Title
	}
	m.labels = m.engine.Rules().Labels()
	m.cursor = 0
	m.last = nil
	m.err = nil
	m.status = "workspace reloaded"
	m.refresh()
}

func (m *Model) step(s egraph.Strategy) {
	report, err := m.engine.Step(s)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.last = report
	switch {
	case report.Iteration == 0:
		m.status = "no rules to fire"
	case report.Changed():
		m.status = fmt.Sprintf("step %d: applied %s", report.Iteration, joinLabels(report.Applied))
	case len(report.Fired) > 0:
		m.status = fmt.Sprintf("step %d: %s fired without change", report.Iteration, joinLabels(report.Fired))
	default:
		m.status = fmt.Sprintf("step %d: nothing matched", report.Iteration)
	}
	m.refresh()
}

func (m *Model) back() {
	if err := m.engine.Back(); err != nil {
		if errors.Is(err, egraph.ErrNoHistory) {
			m.status = "already at the initial graph"
			return
		}
		m.err = err
		return
	}
	m.err = nil
	m.last = nil
	m.status = fmt.Sprintf("back to step %d", m.engine.Iteration())
	m.refresh()
}

func (m *Model) extract() {
	x, err := m.engine.Extract()
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.status = fmt.Sprintf("best: %s (cost %d)", x.Expr, x.Cost)
}

func (m *Model) reset() {
	if err := m.engine.Reset(); err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.last = nil
	m.status = "reset"
	m.refresh()
}

// refresh renders the current snapshot into the viewport. Nodes added by
// the last step are highlighted.
func (m *Model) refresh() {
	snap, err := m.engine.Snapshot()
	if err != nil {
		m.err = err
		return
	}
	added := make(map[uint64]bool)
	if m.last != nil {
		for _, n := range m.last.Diff.AddedNodes {
			added[n.Hash] = true
		}
	}
	m.viewport.SetContent(renderSnapshot(snap, added))
}

func renderSnapshot(snap *egraph.Snapshot, added map[uint64]bool) string {
	var sb strings.Builder
	for _, c := range snap.Classes {
		name := c.ID.String()
		if c.ID == snap.Root {
			name = rootStyle.Render(name + "*")
		}
		sb.WriteString(name)
		sb.WriteString(": ")
		for i, n := range c.Nodes {
			if i > 0 {
				sb.WriteString(subtleStyle.Render(" | "))
			}
			text := egraph.NewNode(n.Label, n.Children...).String()
			if added[n.Hash] {
				text = addedStyle.Render(text)
			}
			sb.WriteString(text)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var rules strings.Builder
	rules.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Rewrite rules") + "\n\n")
	if len(m.labels) == 0 {
		rules.WriteString(subtleStyle.Render("No rules configured."))
	}
	for i, r := range m.engine.Rules().Rules() {
		prefix := "  "
		line := r.String()
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
			line = cursorStyle.Render(line)
		}
		rules.WriteString(prefix + line + "\n")
	}
	topPane := paneStyle.Render(strings.TrimRight(rules.String(), "\n"))

	count, _ := m.engine.Graph().NodeCount()
	header := headerStyle.Render(fmt.Sprintf("%s  step %d  %d classes  %d nodes",
		m.title, m.engine.Iteration(), m.engine.Graph().ClassCount(), count))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("error: %v", m.err))
	} else {
		status = okStyle.Render(m.status)
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nenter fire rule • a auto • b back • e extract • r reset • q quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

// Status returns the last status line; an error takes precedence.
func (m Model) Status() string {
	if m.err != nil {
		return m.err.Error()
	}
	return m.status
}

func joinLabels(labels []egraph.RuleLabel) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}
