package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/petr-muller/bzreport/internal/report"
)

func testReport(name string) *report.Report {
	return &report.Report{
		Name:    name,
		Title:   "Open bugs by severity",
		Created: time.Date(2024, time.March, 17, 8, 0, 0, 0, time.UTC),
		Tables: []report.Table{{
			Title:   "Open bugs",
			Columns: []string{"2024-03-10", "2024-03-17"},
			Rows: []report.Row{
				{Label: "S1", Cells: []report.Cell{report.CountCell([]int{1, 2}), report.CountCell([]int{2})}},
				{Label: "S2", Cells: []report.Cell{report.CountCell([]int{3}), {}}},
			},
		}},
	}
}

func TestStore(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "reports"))

	missing, err := store.Load("severity-open")
	if err != nil || missing != nil {
		t.Fatalf("expected nothing for a missing report, got %v, %v", missing, err)
	}

	saved := testReport("severity-open")
	if err := store.Save(saved); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(testReport("team-open")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.Exists("severity-open") {
		t.Errorf("expected the report to exist")
	}

	loaded, err := store.Load("severity-open")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(saved, loaded); diff != "" {
		t.Errorf("loaded report differs (-saved +loaded):\n%s", diff)
	}

	items, err := store.ListDetailed()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []ReportListItem{
		{Name: "severity-open", Title: "Open bugs by severity", Created: saved.Created, Tables: 1, Bugs: 3},
		{Name: "team-open", Title: "Open bugs by severity", Created: saved.Created, Tables: 1, Bugs: 3},
	}
	if diff := cmp.Diff(expected, items); diff != "" {
		t.Errorf("unexpected listing (-expected +got):\n%s", diff)
	}

	if err := store.Delete("severity-open"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete("severity-open"); err != nil {
		t.Errorf("deleting a missing report must not fail, got %v", err)
	}
	names, err := store.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"team-open"}, names); diff != "" {
		t.Errorf("unexpected names (-expected +got):\n%s", diff)
	}
}

func TestSaveRejectsInvalidNames(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, name := range []string{"", "../escape", `a\b`} {
		if err := store.Save(testReport(name)); err == nil {
			t.Errorf("expected an error for name %q", name)
		}
	}
}

func TestReportsDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	dir, err := ReportsDataDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != filepath.Join("/data", "bzreport", "reports") {
		t.Errorf("unexpected data dir %q", dir)
	}
}
