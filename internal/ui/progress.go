package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type doneMsg struct {
	err error
}

// Progress shows a spinner while a long running task runs
type Progress struct {
	spinner spinner.Model
	message string
	task    func() error
	done    bool
	err     error
}

// NewProgress creates a spinner model that runs the task and quits when it is done
func NewProgress(message string, task func() error) Progress {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Progress{spinner: s, message: message, task: task}
}

// Init starts the spinner and the task
func (p Progress) Init() tea.Cmd {
	return tea.Batch(p.spinner.Tick, func() tea.Msg {
		return doneMsg{err: p.task()}
	})
}

// Update handles messages and updates the model
func (p Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		p.done = true
		p.err = msg.err
		return p, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			p.err = tea.ErrInterrupted
			return p, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	}
	return p, nil
}

// View renders the model
func (p Progress) View() string {
	if p.done {
		return ""
	}
	return p.spinner.View() + " " + p.message + "\n"
}

// Err returns the error of the task
func (p Progress) Err() error {
	return p.err
}

// RunWithProgress runs the task behind a spinner and returns its error
func RunWithProgress(message string, task func() error) error {
	final, err := tea.NewProgram(NewProgress(message, task)).Run()
	if err != nil {
		return err
	}
	return final.(Progress).Err()
}
