package compare

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/report"
)

// CellChange is a cell whose value differs from the previous run of the report
type CellChange struct {
	Table  string `yaml:"table"`
	Row    string `yaml:"row"`
	Column string `yaml:"column"`
	// Old is empty when the cell did not exist in the previous run
	Old string `yaml:"old,omitempty"`
	New string `yaml:"new"`
	// Entered and Left are bugs that were added to or removed from the cell
	Entered []int `yaml:"entered,omitempty"`
	Left    []int `yaml:"left,omitempty"`
}

// Comparison describes how a report changed since it was stored last time
type Comparison struct {
	NewTables     []string     `yaml:"new_tables,omitempty"`
	RemovedTables []string     `yaml:"removed_tables,omitempty"`
	Changes       []CellChange `yaml:"changes,omitempty"`

	changed sets.Set[cellKey]
}

type cellKey struct {
	table, row, column string
}

// CompareReports compares the tables of the current report with the previous
// run. Windows that exist only in one of them are compared too, a window that
// moved out of the report is not a change.
func CompareReports(current, previous *report.Report) *Comparison {
	comparison := &Comparison{changed: sets.New[cellKey]()}
	if current == nil || previous == nil {
		return comparison
	}

	previousTables := make(map[string]report.Table, len(previous.Tables))
	for _, table := range previous.Tables {
		previousTables[table.Title] = table
	}
	currentTitles := sets.New[string]()

	for _, table := range current.Tables {
		currentTitles.Insert(table.Title)
		old, exists := previousTables[table.Title]
		if !exists {
			comparison.NewTables = append(comparison.NewTables, table.Title)
			continue
		}
		comparison.compareTables(table, old)
	}

	for _, table := range previous.Tables {
		if !currentTitles.Has(table.Title) {
			comparison.RemovedTables = append(comparison.RemovedTables, table.Title)
		}
	}
	return comparison
}

func cells(t report.Table) map[string]map[string]report.Cell {
	byRow := make(map[string]map[string]report.Cell, len(t.Rows))
	for _, row := range t.Rows {
		byColumn := make(map[string]report.Cell, len(t.Columns))
		for i, cell := range row.Cells {
			if i < len(t.Columns) {
				byColumn[t.Columns[i]] = cell
			}
		}
		byRow[row.Label] = byColumn
	}
	return byRow
}

func (c *Comparison) compareTables(current, previous report.Table) {
	previousCells := cells(previous)
	for _, row := range current.Rows {
		oldRow := previousCells[row.Label]
		for i, cell := range row.Cells {
			if i >= len(current.Columns) {
				break
			}
			column := current.Columns[i]
			old, exists := oldRow[column]
			if exists && old.String() == cell.String() && sets.New(old.Bugs...).Equal(sets.New(cell.Bugs...)) {
				continue
			}
			change := CellChange{
				Table:   current.Title,
				Row:     row.Label,
				Column:  column,
				New:     cell.String(),
				Entered: sets.List(sets.New(cell.Bugs...).Difference(sets.New(old.Bugs...))),
				Left:    sets.List(sets.New(old.Bugs...).Difference(sets.New(cell.Bugs...))),
			}
			if exists {
				change.Old = old.String()
			}
			c.Changes = append(c.Changes, change)
			c.changed.Insert(cellKey{current.Title, row.Label, column})
		}
	}
}

// HasChanges returns true if anything changed since the previous run
func (c *Comparison) HasChanges() bool {
	return len(c.NewTables) > 0 || len(c.RemovedTables) > 0 || len(c.Changes) > 0
}

// Changed returns true when the cell differs from the previous run
func (c *Comparison) Changed(table, row, column string) bool {
	if c == nil {
		return false
	}
	return c.changed.Has(cellKey{table, row, column})
}
