// Package watch renders a live view of a running loop by polling its status
// file. It is strictly an observer: it reads the status JSON the loop writes
// and never touches the ledgers or the working tree.
package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"devloop/internal/logbook"
	"devloop/internal/loop"
)

// pollInterval is how often the status file is re-read.
const pollInterval = 500 * time.Millisecond

// statusMsg carries a polled status snapshot. A nil status means no loop is
// currently running (file absent).
type statusMsg struct {
	status *loop.Status
}

// tickMsg triggers the next poll.
type tickMsg time.Time

// Model is the bubbletea model for the watch view.
type Model struct {
	workdir string
	spinner spinner.Model
	styles  logbook.Styles

	status *loop.Status
	seen   bool // a running loop was observed at least once
	done   bool
	width  int
}

// New creates a watch model for the given working directory.
func New(workdir string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(logbook.ColorHighlight))
	return Model{
		workdir: workdir,
		spinner: sp,
		styles:  logbook.DefaultStyles(),
		width:   60,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// poll reads the status file once.
func (m Model) poll() tea.Cmd {
	workdir := m.workdir
	return func() tea.Msg {
		s, _ := loop.ReadStatus(workdir)
		return statusMsg{status: s}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case statusMsg:
		if msg.status != nil {
			m.status = msg.status
			m.seen = true
			if msg.status.State == "completed" {
				m.done = true
				return m, tea.Quit
			}
		} else if m.seen {
			// Loop finished and cleared its status file.
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.poll(), tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.status == nil {
		if m.done {
			return ""
		}
		return fmt.Sprintf("\n %s waiting for a loop to start (q to quit)\n", m.spinner.View())
	}

	s := m.status
	var lines []string
	lines = append(lines, m.styles.Title.Render("Devloop"))

	switch s.State {
	case "completed":
		lines = append(lines, fmt.Sprintf("Completed: %d cycle(s)", s.Cycle))
	case "delaying":
		lines = append(lines, fmt.Sprintf("%s Cycle %d/%d (delaying)", m.spinner.View(), s.Cycle, s.MaxLoops))
	default:
		lines = append(lines, fmt.Sprintf("%s Cycle %d/%d", m.spinner.View(), s.Cycle, s.MaxLoops))
	}

	elapsed := time.Duration(s.Elapsed).Round(time.Second)
	lines = append(lines, fmt.Sprintf("Elapsed: %s", elapsed))

	lines = append(lines, "")
	lines = append(lines, "Results:")
	lines = append(lines, m.styles.Success.Render(fmt.Sprintf("  ✓ %d succeeded", s.Tallies.Succeeded)))
	lines = append(lines, m.styles.Error.Render(fmt.Sprintf("  ✗ %d failed", s.Tallies.Failed)))

	if s.State == "completed" && s.StopReason != "" {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("Stopped: %s", s.StopReason))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(logbook.ColorHighlight)).
		Padding(1, 2).
		Width(min(m.width-2, 60)).
		Render(content)

	return box + "\n"
}

// Run starts the watch view and blocks until the loop completes or the user
// quits.
func Run(workdir string) error {
	p := tea.NewProgram(New(workdir))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch view: %w", err)
	}
	return nil
}
