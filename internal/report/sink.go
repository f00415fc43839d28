package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/petr-muller/bzreport/internal/bugzilla"
)

// Options control how tables are laid out by the sinks
type Options struct {
	// Ascending shows the oldest column first, the default is most recent first
	Ascending bool
	// WithBugs appends the bug lists behind every count
	WithBugs bool
}

func (o Options) columns(t Table) []int {
	order := lo.Range(len(t.Columns))
	if !o.Ascending {
		order = lo.Reverse(order)
	}
	return order
}

func (o Options) header(t Table) []string {
	header := []string{""}
	for _, i := range o.columns(t) {
		header = append(header, t.Columns[i])
	}
	return header
}

func (o Options) cells(t Table, row Row) []string {
	line := []string{row.Label}
	for _, i := range o.columns(t) {
		if i < len(row.Cells) {
			line = append(line, row.Cells[i].String())
		} else {
			line = append(line, "")
		}
	}
	return line
}

// BugList is the list of bugs behind one cell
type BugList struct {
	Table  string
	Row    string
	Column string
	Bugs   []int
	URL    string
}

// BugLists returns the bug lists of all non-empty cells
func (r *Report) BugLists(opts Options) []BugList {
	var lists []BugList
	for _, t := range r.Tables {
		for _, row := range t.Rows {
			for _, i := range opts.columns(t) {
				if i >= len(row.Cells) || len(row.Cells[i].Bugs) == 0 {
					continue
				}
				list := BugList{Table: t.Title, Row: row.Label, Column: t.Columns[i], Bugs: row.Cells[i].Bugs}
				if r.Endpoint != "" {
					list.URL = bugzilla.BugListURL(r.Endpoint, list.Bugs)
				}
				lists = append(lists, list)
			}
		}
	}
	return lists
}

func joinBugs(ids []int) string {
	return strings.Join(lo.Map(ids, func(id int, _ int) string { return strconv.Itoa(id) }), " ")
}

// WriteCSV writes the tables one after another, separated by empty lines
func WriteCSV(w io.Writer, r *Report, opts Options) error {
	writer := csv.NewWriter(w)
	records := [][]string{{r.Title}}
	for _, t := range r.Tables {
		records = append(records, []string{}, []string{t.Title}, opts.header(t))
		for _, row := range t.Rows {
			records = append(records, opts.cells(t, row))
		}
	}
	if opts.WithBugs {
		records = append(records, []string{}, []string{"Bug lists"}, []string{"table", "row", "column", "bugs", "link"})
		for _, list := range r.BugLists(opts) {
			records = append(records, []string{list.Table, list.Row, list.Column, joinBugs(list.Bugs), list.URL})
		}
	}
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// WriteYAML writes the report in the same form as it is stored
func WriteYAML(w io.Writer, r *Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to write YAML: %w", err)
	}
	return encoder.Close()
}

var sheetNameReplacer = strings.NewReplacer("[", "(", "]", ")", ":", "-", "*", "", "?", "", "/", "-", "\\", "-")

func sheetName(title string, used map[string]bool) string {
	const maxLen = 31
	base := strings.TrimSpace(sheetNameReplacer.Replace(title))
	if base == "" {
		base = "Table"
	}
	if len(base) > maxLen {
		base = strings.TrimSpace(base[:maxLen])
	}
	name := base
	for i := 2; used[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf(" %d", i)
		name = base
		if len(name)+len(suffix) > maxLen {
			name = name[:maxLen-len(suffix)]
		}
		name += suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

// WriteXLSX writes a workbook with one sheet per table. Counts are stored as numbers.
func WriteXLSX(w io.Writer, r *Report, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()

	used := map[string]bool{}
	for i, t := range r.Tables {
		name := sheetName(t.Title, used)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return fmt.Errorf("failed to name sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", name, err)
		}
		if err := writeSheet(f, name, r, t, opts); err != nil {
			return fmt.Errorf("sheet %q: %w", name, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write XLSX: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, r *Report, t Table, opts Options) error {
	if err := f.SetCellValue(sheet, "A1", t.Title); err != nil {
		return err
	}
	header := lo.Map(opts.header(t), func(s string, _ int) any { return s })
	if err := f.SetSheetRow(sheet, "A2", &header); err != nil {
		return err
	}
	for y, row := range t.Rows {
		values := []any{row.Label}
		for _, i := range opts.columns(t) {
			switch {
			case i >= len(row.Cells):
				values = append(values, "")
			case row.Cells[i].Text != "":
				values = append(values, row.Cells[i].Text)
			default:
				values = append(values, row.Cells[i].Count)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, y+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		if r.Endpoint == "" {
			continue
		}
		for x, i := range opts.columns(t) {
			if i >= len(row.Cells) || len(row.Cells[i].Bugs) == 0 {
				continue
			}
			link, err := excelize.CoordinatesToCellName(x+2, y+3)
			if err != nil {
				return err
			}
			if err := f.SetCellHyperLink(sheet, link, bugzilla.BugListURL(r.Endpoint, row.Cells[i].Bugs), "External"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render writes the tables as aligned text for the terminal
func Render(w io.Writer, r *Report, opts Options) error {
	if _, err := fmt.Fprintf(w, "%s\n", r.Title); err != nil {
		return err
	}
	for _, t := range r.Tables {
		tbl := table.NewWriter()
		tbl.SetStyle(table.StyleLight)
		tbl.SetTitle(t.Title)
		tbl.AppendHeader(toRow(opts.header(t)))
		for _, row := range t.Rows {
			tbl.AppendRow(toRow(opts.cells(t, row)))
		}
		if _, err := fmt.Fprintf(w, "\n%s\n", tbl.Render()); err != nil {
			return err
		}
	}
	return nil
}

func toRow(values []string) table.Row {
	return lo.Map(values, func(s string, _ int) any { return s })
}

// WriteFile writes the report to path, choosing the format by the extension
func WriteFile(path string, r *Report, opts Options) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		write = func(w io.Writer) error { return WriteCSV(w, r, opts) }
	case ".yaml", ".yml":
		write = func(w io.Writer) error { return WriteYAML(w, r) }
	case ".xlsx":
		write = func(w io.Writer) error { return WriteXLSX(w, r, opts) }
	case ".txt":
		write = func(w io.Writer) error { return Render(w, r, opts) }
	default:
		return fmt.Errorf("unsupported output format %q (expected .csv, .yaml, .xlsx or .txt)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
