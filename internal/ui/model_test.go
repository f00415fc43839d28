package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/petr-muller/bzreport/internal/report"
	"github.com/petr-muller/bzreport/internal/report/compare"
)

func testReport() *report.Report {
	return &report.Report{
		Name:    "severity-open",
		Title:   "Open defects by severity",
		Created: time.Date(2024, time.January, 24, 15, 0, 0, 0, time.UTC),
		Tables: []report.Table{
			{
				Title:   "Open defects",
				Columns: []string{"2024-01-14", "2024-01-21"},
				Rows: []report.Row{
					{Label: "S1", Cells: []report.Cell{report.CountCell([]int{1}), report.CountCell([]int{1, 2})}},
					{Label: "S2", Cells: []report.Cell{report.CountCell([]int{3}), report.CountCell([]int{3})}},
				},
			},
			{Title: "Opened and closed defects", Columns: []string{"2024-01-14", "2024-01-21"}},
		},
	}
}

func TestModelMarksChangedCells(t *testing.T) {
	previous := testReport()
	previous.Tables[0].Rows[0].Cells[1] = report.CountCell([]int{1})
	current := testReport()

	m := NewModel(current, compare.CompareReports(current, previous), previous.Created, report.Options{})
	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Most recent window first
	if rows[0][1] != "2*" || rows[0][2] != "1" {
		t.Errorf("expected changed most recent S1 cell first, got %v", rows[0])
	}
	if rows[1][1] != "1" {
		t.Errorf("expected unchanged S2 cell, got %v", rows[1])
	}

	if m.table.Cursor() != 0 {
		t.Errorf("expected the first row to be selected, got cursor %d", m.table.Cursor())
	}
	view := m.View()
	for _, expected := range []string{"Open defects [1/2]", "2024-01-21: 1 -> 2 +2", "S1, 2024-01-21: 2 bugs: 1,2"} {
		if !strings.Contains(view, expected) {
			t.Errorf("expected view to contain %q, got:\n%s", expected, view)
		}
	}
}

func TestModelSwitchesTables(t *testing.T) {
	m := NewModel(testReport(), nil, time.Time{}, report.Options{Ascending: true})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if !strings.Contains(m.View(), "Opened and closed defects [2/2]") {
		t.Errorf("expected the second table after tab")
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(Model)
	if !strings.Contains(m.View(), "Open defects [1/2]") {
		t.Errorf("expected to wrap around to the first table")
	}
	if column, bugs := m.selectedBugs(); column != "2024-01-21" || len(bugs) != 2 {
		t.Errorf("expected the first row selected after switching back, got %q %v", column, bugs)
	}
}

func TestModelKeepsSelectionOnResize(t *testing.T) {
	m := NewModel(testReport(), nil, time.Time{}, report.Options{})
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(Model)
	updated, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(Model)
	if m.table.Cursor() != 1 {
		t.Errorf("expected the second row to stay selected, got cursor %d", m.table.Cursor())
	}
	if !strings.Contains(m.View(), "S2, 2024-01-21: 1 bugs: 3") {
		t.Errorf("expected the detail of the second row, got:\n%s", m.View())
	}
}

func TestProgress(t *testing.T) {
	p := NewProgress("Building", func() error { return nil })
	updated, cmd := p.Update(doneMsg{})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if updated.(Progress).View() != "" {
		t.Errorf("expected empty view after the task finished")
	}
}
