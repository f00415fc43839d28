package report

import (
	"fmt"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/aggregate"
)

// Report is a set of tables produced by one run of a report definition
type Report struct {
	Name     string    `yaml:"name"`
	Title    string    `yaml:"title"`
	Created  time.Time `yaml:"created"`
	Endpoint string    `yaml:"endpoint,omitempty"`
	Tables   []Table   `yaml:"tables"`
}

// Table has rows of categories and columns of windows or teams. Columns are
// kept in chronological order; sinks choose the display order.
type Table struct {
	Title   string   `yaml:"title"`
	Columns []string `yaml:"columns"`
	Rows    []Row    `yaml:"rows"`
}

// Row holds one cell per table column
type Row struct {
	Label string `yaml:"label"`
	Cells []Cell `yaml:"cells"`
}

// Cell is a count, optionally with the bugs making it up. Text replaces the
// count for derived values such as shares.
type Cell struct {
	Count int    `yaml:"count"`
	Text  string `yaml:"text,omitempty"`
	Bugs  []int  `yaml:"bugs,omitempty"`
}

func (c Cell) String() string {
	if c.Text != "" {
		return c.Text
	}
	return strconv.Itoa(c.Count)
}

// CountCell creates a cell counting the bugs
func CountCell(bugs []int) Cell {
	if len(bugs) == 0 {
		return Cell{}
	}
	return Cell{Count: len(bugs), Bugs: bugs}
}

// ShareCell creates a cell with a ratio rounded to two decimals, or an empty cell when undefined
func ShareCell(share float64, ok bool) Cell {
	if !ok {
		return Cell{Text: "-"}
	}
	return Cell{Text: fmt.Sprintf("%.2f", share)}
}

// Bugs returns all bug ids in the table, sorted and unique
func (t Table) Bugs() []int {
	ids := sets.New[int]()
	for _, row := range t.Rows {
		for _, cell := range row.Cells {
			ids.Insert(cell.Bugs...)
		}
	}
	return sets.List(ids)
}

// WindowLabels returns the labels of the result windows in chronological order
func WindowLabels(result *aggregate.Result) []string {
	labels := make([]string, 0, len(result.Windows))
	for _, w := range result.Windows {
		labels = append(labels, w.Label)
	}
	return labels
}

// FromResult creates a table with one row per category counting members in
// each window. Without categories, all categories of the result are used.
func FromResult(title string, result *aggregate.Result, categories []string) Table {
	if categories == nil {
		categories = result.Categories()
	}
	table := Table{Title: title, Columns: WindowLabels(result)}
	for _, category := range categories {
		row := Row{Label: category}
		for _, label := range table.Columns {
			row.Cells = append(row.Cells, CountCell(result.Bugs(label, category)))
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// TotalRow sums up distinct bugs of all categories in each window
func TotalRow(label string, result *aggregate.Result) Row {
	row := Row{Label: label}
	for _, w := range result.Windows {
		all := sets.New[int]()
		for _, category := range result.Categories() {
			all.Insert(result.Bugs(w.Label, category)...)
		}
		row.Cells = append(row.Cells, CountCell(sets.List(all)))
	}
	return row
}

// FromChanges creates a table with opened and closed rows per category
func FromChanges(title string, changes *aggregate.Changes, categories []string) Table {
	table := Table{Title: title, Columns: changes.Windows}
	for _, category := range categories {
		opened := Row{Label: category + " opened"}
		closed := Row{Label: category + " closed"}
		for _, label := range changes.Windows {
			opened.Cells = append(opened.Cells, CountCell(changes.Opened(label, category)))
			closed.Cells = append(closed.Cells, CountCell(changes.Closed(label, category)))
		}
		table.Rows = append(table.Rows, opened, closed)
	}
	return table
}
