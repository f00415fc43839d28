package reports

import (
	"context"
	"net/url"

	"github.com/samber/lo"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/report"
)

// highSeverities are the severities tracked by the per-team and velocity reports
var highSeverities = []string{"S1", "S2"}

func init() {
	register(Definition{
		Name:        "severity-open",
		Title:       "Open defects by severity",
		Description: "Open defects in the configured products at the end of each window, by severity, with bugs entering and leaving each severity",
		Fields:      []string{"product", "status", "severity"},
		Query: func(settings config.Settings, windows []history.Window) url.Values {
			return openDuringQuery(settings, windows).values
		},
		Build: buildSeverityOpen,
	})
	register(Definition{
		Name:        "team-open",
		Title:       "Open S1 and S2 defects by team",
		Description: "Open S1 and S2 defects at the end of each window, by the team owning the component the bug was in",
		Fields:      []string{"product", "component", "status", "severity"},
		Query: func(settings config.Settings, windows []history.Window) url.Values {
			q := openDuringQuery(settings, windows)
			for _, severity := range highSeverities {
				q.values.Add("bug_severity", severity)
			}
			return q.values
		},
		Build: buildTeamOpen,
	})
}

func buildSeverityOpen(ctx context.Context, in Input) ([]report.Table, error) {
	rule := aggregate.Rule{
		Name:   "severity-open",
		Fields: []string{"product", "status", "severity"},
		Classify: func(_ *history.Snapshot, _ history.Window, states history.States) (string, bool) {
			if !states.New("product").In(in.Settings.Products...) || !in.open(states) {
				return "", false
			}
			severity := states.New("severity").String()
			if !lo.Contains(in.Settings.Severities, severity) {
				return "", false
			}
			return severity, true
		},
	}
	result, err := in.aggregate(ctx, rule)
	if err != nil {
		return nil, err
	}

	open := report.FromResult("Open defects", result, in.Settings.Severities)
	open.Rows = append(open.Rows, report.TotalRow("Total", result))
	changes := report.FromChanges("Opened and closed defects", aggregate.ComputeChanges(result), in.Settings.Severities)
	return []report.Table{open, changes}, nil
}

func buildTeamOpen(ctx context.Context, in Input) ([]report.Table, error) {
	rule := aggregate.Rule{
		Name:   "team-open",
		Fields: []string{"product", "component", "status", "severity"},
		Classify: func(_ *history.Snapshot, _ history.Window, states history.States) (string, bool) {
			if !states.New("product").In(in.Settings.Products...) || !in.open(states) {
				return "", false
			}
			if !states.New("severity").In(highSeverities...) {
				return "", false
			}
			return in.Teams.Team(states.New("product").String(), states.New("component").String()), true
		},
	}
	result, err := in.aggregate(ctx, rule)
	if err != nil {
		return nil, err
	}

	table := report.FromResult("Open S1 and S2 defects", result, nil)
	table.Rows = append(table.Rows, report.TotalRow("Total", result))
	return []report.Table{table}, nil
}
