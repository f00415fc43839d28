package compare

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/petr-muller/bzreport/internal/report"
)

func cell(bugs ...int) report.Cell {
	return report.CountCell(bugs)
}

func openTable(columns []string, s1, s2 []report.Cell) report.Table {
	return report.Table{
		Title:   "Open defects",
		Columns: columns,
		Rows: []report.Row{
			{Label: "S1", Cells: s1},
			{Label: "S2", Cells: s2},
		},
	}
}

func TestCompareReports(t *testing.T) {
	previous := &report.Report{Name: "severity-open", Tables: []report.Table{
		openTable([]string{"2024-01-07", "2024-01-14"},
			[]report.Cell{cell(1), cell(1, 2)},
			[]report.Cell{cell(3), cell(3)},
		),
		{Title: "Gone", Columns: []string{"2024-01-14"}},
	}}

	tests := []struct {
		name     string
		current  *report.Report
		expected *Comparison
	}{
		{
			name:     "identical reports",
			current:  previous,
			expected: &Comparison{},
		},
		{
			name:     "no previous run",
			current:  &report.Report{Name: "severity-open"},
			expected: &Comparison{},
		},
		{
			name: "window moved and a bug got fixed",
			current: &report.Report{Name: "severity-open", Tables: []report.Table{
				openTable([]string{"2024-01-14", "2024-01-21"},
					[]report.Cell{cell(1), cell(2)},
					[]report.Cell{cell(3), cell(3, 4)},
				),
				{Title: "Gone", Columns: []string{"2024-01-14"}},
				{Title: "Added"},
			}},
			expected: &Comparison{
				NewTables: []string{"Added"},
				Changes: []CellChange{
					{Table: "Open defects", Row: "S1", Column: "2024-01-14", Old: "2", New: "1", Left: []int{2}},
					{Table: "Open defects", Row: "S1", Column: "2024-01-21", New: "1", Entered: []int{2}},
					{Table: "Open defects", Row: "S2", Column: "2024-01-21", New: "2", Entered: []int{3, 4}},
				},
			},
		},
		{
			name: "same count with different bugs",
			current: &report.Report{Name: "severity-open", Tables: []report.Table{
				openTable([]string{"2024-01-07", "2024-01-14"},
					[]report.Cell{cell(1), cell(1, 5)},
					[]report.Cell{cell(3), cell(3)},
				),
			}},
			expected: &Comparison{
				RemovedTables: []string{"Gone"},
				Changes: []CellChange{
					{Table: "Open defects", Row: "S1", Column: "2024-01-14", Old: "2", New: "2", Entered: []int{5}, Left: []int{2}},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var prev *report.Report
			if tc.name != "no previous run" {
				prev = previous
			}
			got := CompareReports(tc.current, prev)
			if diff := cmp.Diff(tc.expected, got, cmpopts.IgnoreUnexported(Comparison{}), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("unexpected comparison (-want +got):\n%s", diff)
			}
			if got.HasChanges() != (len(tc.expected.Changes)+len(tc.expected.NewTables)+len(tc.expected.RemovedTables) > 0) {
				t.Errorf("unexpected HasChanges() = %t", got.HasChanges())
			}
		})
	}
}

func TestChanged(t *testing.T) {
	previous := &report.Report{Tables: []report.Table{openTable([]string{"w1"}, []report.Cell{cell(1)}, []report.Cell{cell()})}}
	current := &report.Report{Tables: []report.Table{openTable([]string{"w1"}, []report.Cell{cell(1)}, []report.Cell{cell(2)})}}

	comparison := CompareReports(current, previous)
	if comparison.Changed("Open defects", "S1", "w1") {
		t.Errorf("expected unchanged S1 cell")
	}
	if !comparison.Changed("Open defects", "S2", "w1") {
		t.Errorf("expected changed S2 cell")
	}

	var none *Comparison
	if none.Changed("Open defects", "S2", "w1") {
		t.Errorf("expected nil comparison to report no changes")
	}
}
