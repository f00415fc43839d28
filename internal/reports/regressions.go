package reports

import (
	"context"
	"net/url"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/report"
)

const (
	regressionKeyword = "regression"
	perfAlertKeyword  = "perf-alert"
	unconfirmed       = "UNCONFIRMED"

	severityNone = "none"
)

var (
	ignoredRegressionResolutions = []string{"INVALID"}

	// legacySeverities maps severities used before the S1-S4 scale was introduced
	legacySeverities = map[string]string{
		"blocker":     "S1",
		"critical":    "S2",
		"major":       "S3",
		"normal":      "S3",
		"minor":       "S4",
		"trivial":     "S4",
		"enhancement": "S4",
		"N/A":         "--",
	}

	severityGroups = map[string]string{
		"S1": "S1",
		"S2": "S2",
		"S3": "S3+S4",
		"S4": "S3+S4",
		"--": severityNone,
	}

	regressionCategories = []string{"S1", "S2", "S3+S4", severityNone}
)

var regressionFields = []string{"product", "component", "severity", "status", "resolution", "keywords"}

func init() {
	register(Definition{
		Name:        "regressions",
		Title:       "Confirmed bugs set as regressions",
		Description: "Confirmed bugs that became regressions during each window, by severity",
		Fields:      regressionFields,
		Queries:     regressionQueries,
		Build:       buildRegressions,
	})
}

// regressionQueries finds bugs whose keywords changed, regressions filed, and
// bugs confirmed during the windows
func regressionQueries(settings config.Settings, windows []history.Window) []url.Values {
	start, end := span(windows)
	from, until := bzDate(start), bzDate(end)
	return []url.Values{
		newSearch(settings).
			sameChange().
			where("keywords", "changedafter", from).
			where("keywords", "changedbefore", until).
			end().
			values,
		newSearch(settings).
			where("keywords", "allwords", regressionKeyword).
			where("creation_ts", "greaterthan", from).
			where("creation_ts", "lessthan", until).
			values,
		newSearch(settings).
			sameChange().
			where("bug_status", "changedfrom", unconfirmed).
			where("bug_status", "changedafter", from).
			where("bug_status", "changedbefore", until).
			end().
			values,
	}
}

func severityGroup(severity string) string {
	if legacy, ok := legacySeverities[severity]; ok {
		severity = legacy
	}
	if group, ok := severityGroups[severity]; ok {
		return group
	}
	return severityNone
}

func (in Input) confirmedRegression(product, status, keywords history.Value) bool {
	return product.In(in.Settings.Products...) && !status.In(unconfirmed) && keywords.Has(regressionKeyword)
}

// filedAsPerfAlert is true for bugs created by performance alerting. Bugs which
// got perf-alert later were regressions before the alert was posted.
func filedAsPerfAlert(snap *history.Snapshot) bool {
	if !snap.Fields["keywords"].Has(perfAlertKeyword) {
		return false
	}
	for _, event := range snap.History {
		if event.Field != "keywords" {
			continue
		}
		for _, added := range history.ParseList(event.Added) {
			if added == perfAlertKeyword {
				return false
			}
		}
	}
	return true
}

func buildRegressions(ctx context.Context, in Input) ([]report.Table, error) {
	result, err := in.aggregate(ctx, aggregate.Rule{
		Name:   "regressions",
		Fields: regressionFields,
		Classify: func(snap *history.Snapshot, w history.Window, states history.States) (string, bool) {
			if !in.confirmedRegression(states.New("product"), states.New("status"), states.New("keywords")) {
				return "", false
			}
			if states.New("resolution").In(ignoredRegressionResolutions...) || filedAsPerfAlert(snap) {
				return "", false
			}
			// Older bugs count only in the window they became confirmed regressions
			if snap.Created.Before(w.Start) && in.confirmedRegression(states.Old("product"), states.Old("status"), states.Old("keywords")) {
				return "", false
			}
			return severityGroup(states.New("severity").String()), true
		},
	})
	if err != nil {
		return nil, err
	}

	added := report.FromResult("Confirmed bugs set as regressions by severity", result, regressionCategories)
	added.Rows = append(added.Rows, report.TotalRow("Total", result))
	return []report.Table{added}, nil
}
