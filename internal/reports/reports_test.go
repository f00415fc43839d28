package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/metrics"
	"github.com/petr-muller/bzreport/internal/needinfo"
	"github.com/petr-muller/bzreport/internal/report"
)

const bot = "release-mgmt-account-bot@mozilla.tld"

var (
	t0   = time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC)
	week = 7 * 24 * time.Hour
)

func weeks(n int) []history.Window {
	var windows []history.Window
	for i := 0; i < n; i++ {
		start := t0.Add(time.Duration(i) * week)
		end := start.Add(week)
		windows = append(windows, history.Window{Start: start, End: end, Label: end.Format(time.DateOnly)})
	}
	return windows
}

func settings() config.Settings {
	return config.Settings{
		Products:         []string{"Core"},
		Severities:       []string{"S1", "S2"},
		OpenStatuses:     []string{"NEW", "ASSIGNED"},
		NeedinfoBot:      bot,
		FollowupLimit:    time.Hour,
		CommentTolerance: 5 * time.Second,
		Fields:           config.DefaultFields(),
	}
}

func teams() *mappings.Teams {
	m := mappings.NewMappings()
	m.SetComponentTeam("Core", "DOM", "DOM")
	m.SetComponentTeam("Core", "Layout", "Layout")
	return m.Teams()
}

func bug(id int, created time.Time, product, component, status, resolution, severity string, events ...history.ChangeEvent) *history.Snapshot {
	return &history.Snapshot{
		ID:      id,
		Created: created,
		Fields: map[string]history.Value{
			"product":        history.ScalarValue(product),
			"component":      history.ScalarValue(component),
			"status":         history.ScalarValue(status),
			"resolution":     history.ScalarValue(resolution),
			"severity":       history.ScalarValue(severity),
			"keywords":       history.SetValue(),
			"flagtypes.name": history.SetValue(),
		},
		History: events,
	}
}

// defects are three weeks of S1 and S2 defects:
// bug 1 is an open S2 all the time, bug 2 is an S1 fixed in the second week,
// bug 3 is an S1 created in the third week, bug 4 is in a product not reported on
func defects(windows []history.Window) []*history.Snapshot {
	fixedAt := windows[1].Start.Add(time.Hour)
	return []*history.Snapshot{
		bug(1, t0.Add(-week), "Core", "DOM", "NEW", "", "S2"),
		bug(2, t0.Add(-week), "Core", "Layout", "RESOLVED", "FIXED", "S1",
			history.ChangeEvent{When: fixedAt, Field: "status", Removed: "NEW", Added: "RESOLVED"},
			history.ChangeEvent{When: fixedAt, Field: "resolution", Removed: "", Added: "FIXED"},
		),
		bug(3, windows[2].Start.Add(time.Hour), "Core", "DOM", "NEW", "", "S1"),
		bug(4, t0.Add(-week), "Firefox", "General", "NEW", "", "S1"),
	}
}

func input(snaps []*history.Snapshot, windows []history.Window) Input {
	return Input{
		Snapshots:  snaps,
		Windows:    windows,
		Settings:   settings(),
		Teams:      teams(),
		Aggregator: &aggregate.Aggregator{Concurrency: 2},
	}
}

func build(t *testing.T, name string, in Input) []report.Table {
	t.Helper()
	definition, err := Lookup(name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tables, err := definition.Build(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tables
}

// summary maps row labels to the bugs of its cells
func summary(table report.Table) map[string][][]int {
	rows := map[string][][]int{}
	for _, row := range table.Rows {
		for _, cell := range row.Cells {
			rows[row.Label] = append(rows[row.Label], cell.Bugs)
		}
	}
	return rows
}

func texts(row report.Row) []string {
	var out []string
	for _, cell := range row.Cells {
		out = append(out, cell.String())
	}
	return out
}

func TestRegistry(t *testing.T) {
	expected := []string{"needinfo", "opened-closed", "regressions", "security", "severity-open", "team-open"}
	if diff := cmp.Diff(expected, Names()); diff != "" {
		t.Errorf("unexpected report names (-want +got):\n%s", diff)
	}
	for _, definition := range All() {
		if err := config.DefaultFields().Require(definition.Fields...); err != nil {
			t.Errorf("report %s needs fields missing in the default schema: %v", definition.Name, err)
		}
		if len(definition.Searches(settings(), weeks(1))) == 0 || definition.Build == nil {
			t.Errorf("report %s is incomplete", definition.Name)
		}
	}
	if _, err := Lookup("nonexistent"); err == nil {
		t.Errorf("expected error for an unknown report")
	}
}

func TestIncludeFields(t *testing.T) {
	definition, _ := Lookup("needinfo")
	expected := []string{"id", "creation_time", "history", "product", "component", "flagtypes.name", "comments"}
	if diff := cmp.Diff(expected, definition.IncludeFields()); diff != "" {
		t.Errorf("unexpected fields (-want +got):\n%s", diff)
	}
}

func TestOpenDuringQuery(t *testing.T) {
	windows := weeks(2)
	query := openDuringQuery(settings(), windows).values
	expected := map[string]string{
		"product":  "Core",
		"bug_type": "defect",
		"f1":       "creation_ts", "o1": "lessthan", "v1": "2024-01-21",
		"f2": "OP", "j2": "OR",
		"f3": "resolution", "o3": "equals", "v3": "---",
		"f4": "resolution", "o4": "changedafter", "v4": "2024-01-07",
		"f5": "CP",
	}
	for key, value := range expected {
		if got := query.Get(key); got != value {
			t.Errorf("%s: expected %q, got %q", key, value, got)
		}
	}
}

func TestSeverityOpen(t *testing.T) {
	windows := weeks(3)
	tables := build(t, "severity-open", input(defects(windows), windows))
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(tables))
	}

	expectedOpen := map[string][][]int{
		"S1":    {{2}, nil, {3}},
		"S2":    {{1}, {1}, {1}},
		"Total": {{1, 2}, {1}, {1, 3}},
	}
	if diff := cmp.Diff(expectedOpen, summary(tables[0])); diff != "" {
		t.Errorf("unexpected open bugs (-want +got):\n%s", diff)
	}

	expectedChanges := map[string][][]int{
		"S1 opened": {nil, nil, {3}},
		"S1 closed": {nil, {2}, nil},
		"S2 opened": {nil, nil, nil},
		"S2 closed": {nil, nil, nil},
	}
	if diff := cmp.Diff(expectedChanges, summary(tables[1])); diff != "" {
		t.Errorf("unexpected changes (-want +got):\n%s", diff)
	}
}

func TestTeamOpen(t *testing.T) {
	windows := weeks(3)
	tables := build(t, "team-open", input(defects(windows), windows))

	expected := map[string][][]int{
		"DOM":    {{1}, {1}, {1, 3}},
		"Layout": {{2}, nil, nil},
		"Total":  {{1, 2}, {1}, {1, 3}},
	}
	if diff := cmp.Diff(expected, summary(tables[0])); diff != "" {
		t.Errorf("unexpected team table (-want +got):\n%s", diff)
	}
}

func TestVelocity(t *testing.T) {
	windows := weeks(3)
	tables := build(t, "opened-closed", input(defects(windows), windows))

	expected := map[string][][]int{
		categoryOpen:     {{1, 2}, {1}, {1, 3}},
		"Fixed":          {nil, {2}, nil},
		categoryFixedOld: {nil, {2}, nil},
	}
	if diff := cmp.Diff(expected, summary(tables[0])); diff != "" {
		t.Errorf("unexpected velocity (-want +got):\n%s", diff)
	}
}

func TestSecurity(t *testing.T) {
	windows := weeks(2)
	rated := bug(1, t0.Add(-week), "Core", "DOM", "NEW", "", "S2",
		history.ChangeEvent{When: windows[1].Start.Add(time.Hour), Field: "keywords", Removed: "", Added: "stalled"},
	)
	rated.Fields["keywords"] = history.SetValue("sec-high", "sec-critical", "stalled")
	high := bug(2, t0.Add(-week), "Core", "DOM", "NEW", "", "S2",
		history.ChangeEvent{When: windows[1].Start.Add(time.Hour), Field: "keywords", Removed: "", Added: "sec-high"},
	)
	high.Fields["keywords"] = history.SetValue("sec-high")

	tables := build(t, "security", input([]*history.Snapshot{rated, high}, windows))
	expected := map[string][][]int{
		"sec-critical": {{1}, nil},
		"sec-high":     {nil, {2}},
		"Total":        {{1}, {2}},
	}
	if diff := cmp.Diff(expected, summary(tables[0])); diff != "" {
		t.Errorf("unexpected security bugs (-want +got):\n%s", diff)
	}
}

func TestSecurityResolutions(t *testing.T) {
	windows := weeks(3)
	changedAt := func(w int) time.Time { return windows[w].Start.Add(time.Hour) }

	fixed := bug(1, t0.Add(-week), "Core", "DOM", "RESOLVED", "FIXED", "S2",
		history.ChangeEvent{When: changedAt(1), Field: "status", Removed: "NEW", Added: "RESOLVED"},
		history.ChangeEvent{When: changedAt(1), Field: "resolution", Removed: "", Added: "FIXED"},
	)
	fixed.Fields["keywords"] = history.SetValue(secHigh)
	stalledBug := bug(2, t0.Add(-week), "Core", "DOM", "NEW", "", "S2",
		history.ChangeEvent{When: changedAt(2), Field: "keywords", Removed: "", Added: stalled},
	)
	stalledBug.Fields["keywords"] = history.SetValue(secCritical, stalled)
	odd := bug(3, t0.Add(-week), "Core", "DOM", "RESOLVED", "SOMETHING-NEW", "S2",
		history.ChangeEvent{When: changedAt(1), Field: "status", Removed: "NEW", Added: "RESOLVED"},
		history.ChangeEvent{When: changedAt(1), Field: "resolution", Removed: "", Added: "SOMETHING-NEW"},
	)
	odd.Fields["keywords"] = history.SetValue(secHigh)
	unrated := bug(4, t0.Add(-week), "Core", "DOM", "NEW", "", "S2",
		history.ChangeEvent{When: changedAt(2), Field: "keywords", Removed: secHigh, Added: ""},
	)

	tables := build(t, "security", input([]*history.Snapshot{fixed, stalledBug, odd, unrated}, windows))
	if len(tables) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(tables))
	}
	got := summary(tables[2])
	expected := map[string][][]int{
		"FIXED":           {nil, {1}, nil},
		"WONTFIX":         {nil, nil, nil},
		stalled:           {nil, nil, {2}},
		ratingRemoved:     {nil, nil, {4}},
		unknownResolution: {nil, {3}, nil},
	}
	for label, bugs := range expected {
		if diff := cmp.Diff(bugs, got[label]); diff != "" {
			t.Errorf("unexpected %s bugs (-want +got):\n%s", label, diff)
		}
	}
	if len(tables[2].Rows) != len(securityResolutions)+3 {
		t.Errorf("expected a row per resolution, got %d rows", len(tables[2].Rows))
	}
}

func TestRegressionQueries(t *testing.T) {
	queries := regressionQueries(settings(), weeks(3))
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(queries))
	}
	expected := []map[string]string{
		{
			"f1": "OP", "j1": "AND_G",
			"f2": "keywords", "o2": "changedafter", "v2": "2024-01-07",
			"f3": "keywords", "o3": "changedbefore", "v3": "2024-01-28",
			"f4": "CP",
		},
		{
			"f1": "keywords", "o1": "allwords", "v1": "regression",
			"f2": "creation_ts", "o2": "greaterthan", "v2": "2024-01-07",
			"f3": "creation_ts", "o3": "lessthan", "v3": "2024-01-28",
		},
		{
			"f1": "OP", "j1": "AND_G",
			"f2": "bug_status", "o2": "changedfrom", "v2": "UNCONFIRMED",
			"f4": "bug_status", "o4": "changedbefore", "v4": "2024-01-28",
			"f5": "CP",
		},
	}
	for i, query := range queries {
		if query.Get("product") != "Core" {
			t.Errorf("query %d: expected the configured product, got %v", i, query["product"])
		}
		for key, value := range expected[i] {
			if got := query.Get(key); got != value {
				t.Errorf("query %d: %s: expected %q, got %q", i, key, value, got)
			}
		}
	}
}

func TestRegressions(t *testing.T) {
	windows := weeks(3)
	withKeywords := func(snap *history.Snapshot, keywords ...string) *history.Snapshot {
		snap.Fields["keywords"] = history.SetValue(keywords...)
		return snap
	}
	created := t0.Add(time.Hour)

	snaps := []*history.Snapshot{
		// Became a regression in the second week
		withKeywords(bug(10, t0.Add(-week), "Core", "DOM", "NEW", "", "S2",
			history.ChangeEvent{When: windows[1].Start.Add(time.Hour), Field: "keywords", Removed: "", Added: "regression"},
		), "regression"),
		// Filed as a regression, legacy severity
		withKeywords(bug(11, created, "Core", "DOM", "NEW", "", "major"), "regression"),
		// Confirmed in the third week
		withKeywords(bug(12, t0.Add(-week), "Core", "DOM", "NEW", "", "S1",
			history.ChangeEvent{When: windows[2].Start.Add(time.Hour), Field: "status", Removed: "UNCONFIRMED", Added: "NEW"},
		), "regression"),
		// Filed by performance alerting
		withKeywords(bug(13, created, "Core", "DOM", "NEW", "", "S2"), "regression", "perf-alert"),
		// Alert posted later to a regression
		withKeywords(bug(14, created, "Core", "DOM", "NEW", "", "--",
			history.ChangeEvent{When: windows[1].Start.Add(2 * time.Hour), Field: "keywords", Removed: "", Added: "perf-alert"},
		), "regression", "perf-alert"),
		// Invalid
		withKeywords(bug(15, created, "Core", "DOM", "RESOLVED", "INVALID", "S2"), "regression"),
		// Not a product reported on
		withKeywords(bug(16, created, "Firefox", "General", "NEW", "", "S2"), "regression"),
	}

	tables := build(t, "regressions", input(snaps, windows))
	expected := map[string][][]int{
		"S1":         {nil, nil, {12}},
		"S2":         {nil, {10}, nil},
		"S3+S4":      {{11}, nil, nil},
		severityNone: {{14}, nil, nil},
		"Total":      {{11, 14}, {10}, {12}},
	}
	if diff := cmp.Diff(expected, summary(tables[0])); diff != "" {
		t.Errorf("unexpected regressions (-want +got):\n%s", diff)
	}
}

func TestSeverityGroup(t *testing.T) {
	for severity, expected := range map[string]string{
		"S1":       "S1",
		"critical": "S2",
		"normal":   "S3+S4",
		"S4":       "S3+S4",
		"N/A":      severityNone,
		"--":       severityNone,
		"weird":    severityNone,
	} {
		if got := severityGroup(severity); got != expected {
			t.Errorf("%s: expected %q, got %q", severity, expected, got)
		}
	}
}

func TestMalformedSnapshotAbortsReport(t *testing.T) {
	windows := weeks(2)
	broken := bug(7, t0.Add(-week), "Core", "DOM", "NEW", "", "S2")
	delete(broken.Fields, "severity")

	definition, _ := Lookup("severity-open")
	_, err := definition.Build(context.Background(), input([]*history.Snapshot{broken}, windows))
	var malformed *history.MalformedSnapshotError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected a malformed snapshot error, got %v", err)
	}
	if malformed.BugID != 7 {
		t.Errorf("expected bug 7, got %d", malformed.BugID)
	}
}

func TestNeedinfo(t *testing.T) {
	windows := weeks(2)
	asked := windows[0].Start.Add(time.Hour)
	answered := asked.Add(48 * time.Hour)

	autonag := bug(10, t0.Add(-week), "Core", "DOM", "NEW", "", "S3",
		history.ChangeEvent{When: asked, Field: needinfo.FlagField, Added: "needinfo?(alice)", Author: bot},
		history.ChangeEvent{When: answered, Field: needinfo.FlagField, Removed: "needinfo?(alice)", Author: "alice"},
		history.ChangeEvent{When: answered.Add(10 * time.Minute), Field: "severity", Removed: "--", Added: "S3", Author: "alice"},
	)
	autonag.Comments = []history.Comment{
		{Creator: bot, Created: asked.Add(time.Second), Text: "The severity field is not set for this bug.\nalice, could you have a look please?"},
	}
	manual := bug(11, t0.Add(-week), "Core", "Layout", "NEW", "", "S2",
		history.ChangeEvent{When: windows[1].Start.Add(time.Hour), Field: needinfo.FlagField, Added: "needinfo?(bob)", Author: "carol"},
	)

	in := input([]*history.Snapshot{autonag, manual}, windows)
	in.Metrics = metrics.New()
	tables := build(t, "needinfo", in)
	if len(tables) != len(NeedinfoRules)+1 {
		t.Fatalf("expected a table per rule and a team table, got %d tables", len(tables))
	}

	byTitle := map[string]report.Table{}
	for _, table := range tables {
		byTitle[table.Title] = table
	}

	severity := byTitle["Severity missing"]
	expected := map[string][]string{
		"Needinfo requests set":   {"1", "0"},
		"Answered 0..1 week":      {"1", "0"},
		"Answered 1..2 weeks":     {"0", "0"},
		"Answered >2 weeks":       {"0", "0"},
		"Unanswered":              {"0", "0"},
		"Action by users":         {"1", "0"},
		"Action by users [share]": {"1.00", "-"},
	}
	got := map[string][]string{}
	for _, row := range severity.Rows {
		got[row.Label] = texts(row)
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("unexpected severity-missing table (-want +got):\n%s", diff)
	}

	if rows := len(byTitle["Severity missing"].Rows); rows != 7 {
		t.Errorf("expected reaction rows on a rule with reaction fields, got %d rows", rows)
	}
	if rows := len(byTitle["Patch reviewed but not landed"].Rows); rows != 5 {
		t.Errorf("expected no reaction rows on a rule without reaction fields, got %d rows", rows)
	}

	everybody := byTitle["Needinfo requests by everybody"]
	if diff := cmp.Diff([]string{"1", "1"}, texts(everybody.Rows[0])); diff != "" {
		t.Errorf("unexpected requests by everybody (-want +got):\n%s", diff)
	}

	perTeam := byTitle["Needinfo requests by everybody per team"]
	if diff := cmp.Diff([]string{"DOM", "Layout"}, perTeam.Columns); diff != "" {
		t.Errorf("unexpected team columns (-want +got):\n%s", diff)
	}
	expectedTeams := map[string][]string{
		"Answered 0..1 week":    {"1", "0"},
		"Answered 1..2 weeks":   {"0", "0"},
		"Answered >2 weeks":     {"0", "0"},
		"Unanswered":            {"0", "1"},
		"Median time to answer": {"2.0 days", "-"},
	}
	gotTeams := map[string][]string{}
	for _, row := range perTeam.Rows {
		gotTeams[row.Label] = texts(row)
	}
	if diff := cmp.Diff(expectedTeams, gotTeams); diff != "" {
		t.Errorf("unexpected team table (-want +got):\n%s", diff)
	}

	// Every rule records every bucket of the last window
	n, err := testutil.GatherAndCount(in.Metrics.Registry(), "bzreport_needinfo_requests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(NeedinfoRules)*len(needinfo.Buckets) {
		t.Errorf("expected %d needinfo series, got %d", len(NeedinfoRules)*len(needinfo.Buckets), n)
	}
}
