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
	categoryOpen     = "Open"
	categoryFixed    = "Fixed"
	categoryFixedOld = "Fixed, created before the window"
)

var velocityFields = []string{"product", "status", "resolution", "severity"}

func init() {
	register(Definition{
		Name:        "opened-closed",
		Title:       "S1 and S2 defect velocity",
		Description: "Open S1 and S2 defects per window, bugs opened and closed in each window, and bugs fixed in it",
		Fields:      velocityFields,
		Query: func(settings config.Settings, windows []history.Window) url.Values {
			q := openDuringQuery(settings, windows)
			for _, severity := range highSeverities {
				q.values.Add("bug_severity", severity)
			}
			return q.values
		},
		Build: buildVelocity,
	})
}

func (in Input) tracked(states history.States) bool {
	return states.New("product").In(in.Settings.Products...) && states.New("severity").In(highSeverities...)
}

func buildVelocity(ctx context.Context, in Input) ([]report.Table, error) {
	open, err := in.aggregate(ctx, aggregate.Rule{
		Name:   "opened-closed",
		Fields: velocityFields,
		Classify: func(_ *history.Snapshot, _ history.Window, states history.States) (string, bool) {
			return categoryOpen, in.tracked(states) && in.open(states)
		},
	})
	if err != nil {
		return nil, err
	}

	// A bug is fixed in the window when it was open at its start and ended it
	// resolved as FIXED
	fixed, err := in.aggregate(ctx, aggregate.Rule{
		Name:   "fixed",
		Fields: velocityFields,
		Classify: func(snap *history.Snapshot, w history.Window, states history.States) (string, bool) {
			if !in.tracked(states) || !states.Old("status").In(in.Settings.OpenStatuses...) {
				return "", false
			}
			if !states.New("resolution").In("FIXED") {
				return "", false
			}
			if snap.Created.Before(w.Start) {
				return categoryFixedOld, true
			}
			return categoryFixed, true
		},
	})
	if err != nil {
		return nil, err
	}

	summary := report.FromResult("S1 and S2 defects", open, []string{categoryOpen})
	fixedRows := report.FromResult("", fixed, []string{categoryFixed, categoryFixedOld})
	summary.Rows = append(summary.Rows, report.TotalRow("Fixed", fixed), fixedRows.Rows[1])

	changes := report.FromChanges("Opened and closed S1 and S2 defects", aggregate.ComputeChanges(open), []string{categoryOpen})
	return []report.Table{summary, changes}, nil
}
