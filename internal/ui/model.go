package ui

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/petr-muller/bzreport/internal/bugzilla"
	"github.com/petr-muller/bzreport/internal/report"
	"github.com/petr-muller/bzreport/internal/report/compare"
)

const maxRows = 15

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	summaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).MarginTop(1).MarginBottom(1)
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).MarginTop(1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// Model represents the TUI model for browsing a report
type Model struct {
	table      table.Model
	report     *report.Report
	comparison *compare.Comparison
	previous   time.Time
	opts       report.Options
	current    int
	width      int
	height     int
}

// NewModel creates a new TUI model. The comparison and previous run time are
// optional.
func NewModel(r *report.Report, comparison *compare.Comparison, previous time.Time, opts report.Options) Model {
	t := table.New(
		table.WithFocused(true),
		table.WithHeight(2),
	)
	m := Model{
		table:      t,
		report:     r,
		comparison: comparison,
		previous:   previous,
		opts:       opts,
	}
	m.updateTable()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateTable()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.switchTable(1)
			return m, nil
		case "shift+tab", "left", "h":
			m.switchTable(-1)
			return m, nil
		case "enter":
			return m, m.openSelectedBugs()
		}
	}

	m.table, cmd = m.table.Update(msg)
	m.updateSelectionStyle()
	return m, cmd
}

func (m *Model) switchTable(delta int) {
	if len(m.report.Tables) == 0 {
		return
	}
	m.current = (m.current + delta + len(m.report.Tables)) % len(m.report.Tables)
	m.table.SetCursor(0)
	m.updateTable()
}

// selectedBugs returns the bugs of the most recent cell of the selected row
func (m Model) selectedBugs() (string, []int) {
	t, ok := m.currentTable()
	if !ok {
		return "", nil
	}
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(t.Rows) {
		return "", nil
	}
	row := t.Rows[cursor]
	last := min(len(row.Cells), len(t.Columns)) - 1
	if last < 0 {
		return "", nil
	}
	return t.Columns[last], row.Cells[last].Bugs
}

func (m Model) openSelectedBugs() tea.Cmd {
	_, bugs := m.selectedBugs()
	if len(bugs) == 0 || m.report.Endpoint == "" {
		return nil
	}
	url := bugzilla.BugListURL(m.report.Endpoint, bugs)
	return func() tea.Msg {
		_ = exec.Command("xdg-open", url).Start()
		return nil
	}
}

func (m Model) currentTable() (report.Table, bool) {
	if m.current >= len(m.report.Tables) {
		return report.Table{}, false
	}
	return m.report.Tables[m.current], true
}

// View renders the model
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(fmt.Sprintf("Report: %s", m.report.Title)))
	s.WriteString("\n")
	s.WriteString(infoStyle.Render(fmt.Sprintf("Built %s (%s)", m.report.Created.Format("2006-01-02 15:04:05"), humanize.Time(m.report.Created))))
	s.WriteString("\n")
	if !m.previous.IsZero() {
		s.WriteString(infoStyle.Render(fmt.Sprintf("Changes since: %s (%s)", m.previous.Format("2006-01-02 15:04:05"), humanize.Time(m.previous))))
		s.WriteString("\n")
	}
	if m.comparison != nil && m.comparison.HasChanges() {
		s.WriteString(summaryStyle.Render(fmt.Sprintf("Changes: %d cells changed, %d new tables, %d removed tables",
			len(m.comparison.Changes), len(m.comparison.NewTables), len(m.comparison.RemovedTables))))
		s.WriteString("\n")
	}

	t, ok := m.currentTable()
	if !ok {
		s.WriteString("The report has no tables\n")
		s.WriteString(helpStyle.Render("Press 'q' to quit"))
		return s.String()
	}

	s.WriteString(headerStyle.Render(fmt.Sprintf("%s [%d/%d]", t.Title, m.current+1, len(m.report.Tables))))
	s.WriteString("\n")
	s.WriteString(m.table.View())
	s.WriteString("\n")
	if len(t.Rows) > maxRows {
		s.WriteString(infoStyle.Italic(true).Render(fmt.Sprintf("Showing %d of %d rows - use arrow keys to scroll", maxRows, len(t.Rows))))
		s.WriteString("\n")
	}
	s.WriteString(m.renderRowDetail(t))

	s.WriteString(helpStyle.Render("Press 'q' to quit, up/down to select a row, tab to switch tables, enter to open the bugs"))
	return s.String()
}

// renderRowDetail lists changed cells and bugs of the latest window of the selected row
func (m Model) renderRowDetail(t report.Table) string {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(t.Rows) {
		return ""
	}
	row := t.Rows[cursor]
	var s strings.Builder

	if m.comparison != nil {
		for _, change := range m.comparison.Changes {
			if change.Table != t.Title || change.Row != row.Label {
				continue
			}
			old := change.Old
			if old == "" {
				old = "nothing"
			}
			s.WriteString(changedStyle.Render(fmt.Sprintf("%s: %s -> %s", change.Column, old, change.New)))
			if len(change.Entered) > 0 {
				s.WriteString(fmt.Sprintf(" +%s", joinIDs(change.Entered)))
			}
			if len(change.Left) > 0 {
				s.WriteString(fmt.Sprintf(" -%s", joinIDs(change.Left)))
			}
			s.WriteString("\n")
		}
	}

	if column, bugs := m.selectedBugs(); len(bugs) > 0 {
		s.WriteString(detailStyle.Render(fmt.Sprintf("%s, %s: %s bugs: %s", row.Label, column, humanize.Comma(int64(len(bugs))), joinIDs(bugs))))
		s.WriteString("\n")
	}
	return s.String()
}

func joinIDs(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return strings.Join(parts, ",")
}

// updateTable fills the table widget with the currently selected report table
func (m *Model) updateTable() {
	t, ok := m.currentTable()
	if !ok {
		return
	}

	order := displayOrder(len(t.Columns), m.opts.Ascending)
	widths := make([]int, len(order)+1)
	widths[0] = len("Category")
	for _, row := range t.Rows {
		widths[0] = max(widths[0], len(row.Label))
	}
	for i, c := range order {
		widths[i+1] = len(t.Columns[c])
		for _, row := range t.Rows {
			if c < len(row.Cells) {
				widths[i+1] = max(widths[i+1], len(cellText(m, t, row, c)))
			}
		}
	}

	columns := []table.Column{{Title: "Category", Width: widths[0] + 2}}
	for i, c := range order {
		columns = append(columns, table.Column{Title: t.Columns[c], Width: widths[i+1] + 2})
	}

	var rows []table.Row
	for _, row := range t.Rows {
		r := table.Row{row.Label}
		for _, c := range order {
			if c < len(row.Cells) {
				r = append(r, cellText(m, t, row, c))
			} else {
				r = append(r, "")
			}
		}
		rows = append(rows, r)
	}

	// Columns have to shrink before rows are replaced, the widget indexes rows by
	// columns. Emptying the rows moves the cursor off the table, so it is restored.
	cursor := m.table.Cursor()
	m.table.SetRows(nil)
	m.table.SetColumns(columns)
	m.table.SetRows(rows)
	m.table.SetCursor(max(0, min(cursor, len(rows)-1)))
	m.table.SetHeight(min(len(rows), maxRows) + 1)
	m.updateSelectionStyle()
}

// cellText marks cells that changed since the previous run with an asterisk
func cellText(m *Model, t report.Table, row report.Row, column int) string {
	text := row.Cells[column].String()
	if m.comparison.Changed(t.Title, row.Label, t.Columns[column]) {
		return text + "*"
	}
	return text
}

func displayOrder(n int, ascending bool) []int {
	order := make([]int, n)
	for i := range order {
		if ascending {
			order[i] = i
		} else {
			order[i] = n - 1 - i
		}
	}
	return order
}

// updateSelectionStyle highlights the selected row, rows with changed cells in orange
func (m *Model) updateSelectionStyle() {
	styles := table.DefaultStyles()
	background := lipgloss.Color("240")
	if t, ok := m.currentTable(); ok {
		cursor := m.table.Cursor()
		if cursor >= 0 && cursor < len(t.Rows) && m.rowChanged(t, t.Rows[cursor]) {
			background = lipgloss.Color("130")
		}
	}
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("230")).
		Background(background).
		Bold(true)
	m.table.SetStyles(styles)
}

func (m *Model) rowChanged(t report.Table, row report.Row) bool {
	for _, column := range t.Columns {
		if m.comparison.Changed(t.Title, row.Label, column) {
			return true
		}
	}
	return false
}
