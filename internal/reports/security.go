package reports

import (
	"context"
	"net/url"

	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/report"
)

const (
	secCritical = "sec-critical"
	secHigh     = "sec-high"
	stalled     = "stalled"
)

var securityRatings = []string{secCritical, secHigh}

const (
	// ratingRemoved bugs are still open but lost their security rating
	ratingRemoved = "rating removed"
	// unknownResolution catches resolutions not listed in securityResolutions
	unknownResolution = "unknown"
)

var securityResolutions = []string{"FIXED", "VERIFIED", "INVALID", "WONTFIX", "INACTIVE", "DUPLICATE", "WORKSFORME", "INCOMPLETE", "SUPPORT", "EXPIRED", "MOVED"}

var securityFields = []string{"product", "status", "resolution", "keywords"}

func init() {
	register(Definition{
		Name:        "security",
		Title:       "Open sec-critical and sec-high bugs",
		Description: "Open bugs rated sec-critical or sec-high that are not stalled, by rating, with bugs entering and leaving each rating",
		Fields:      securityFields,
		Query: func(settings config.Settings, windows []history.Window) url.Values {
			start, end := span(windows)
			return newSearch(settings).
				where("creation_ts", "lessthan", bzDate(end)).
				anyOf().
				where("keywords", "anywords", secCritical+" "+secHigh).
				where("keywords", "changedafter", bzDate(start)).
				end().
				anyOf().
				where("resolution", "equals", "---").
				where("resolution", "changedafter", bzDate(start)).
				end().
				values
		},
		Build: buildSecurity,
	})
}

// securityRating returns the highest security rating among the keywords
func securityRating(keywords history.Value) (string, bool) {
	for _, rating := range securityRatings {
		if keywords.Has(rating) {
			return rating, true
		}
	}
	return "", false
}

func buildSecurity(ctx context.Context, in Input) ([]report.Table, error) {
	result, err := in.aggregate(ctx, aggregate.Rule{
		Name:   "security",
		Fields: securityFields,
		Classify: func(_ *history.Snapshot, _ history.Window, states history.States) (string, bool) {
			if !states.New("product").In(in.Settings.Products...) || !in.open(states) {
				return "", false
			}
			keywords := states.New("keywords")
			if keywords.Has(stalled) {
				return "", false
			}
			return securityRating(keywords)
		},
	})
	if err != nil {
		return nil, err
	}

	open := report.FromResult("Open security bugs", result, securityRatings)
	open.Rows = append(open.Rows, report.TotalRow("Total", result))
	changes := report.FromChanges("Opened and closed security bugs", aggregate.ComputeChanges(result), securityRatings)
	resolutions, err := securityResolutionTable(ctx, in, result)
	if err != nil {
		return nil, err
	}
	return []report.Table{open, changes, resolutions}, nil
}

// closeReason tells why a bug is not an open rated security bug at the window end
func (in Input) closeReason(states history.States) string {
	if !in.open(states) {
		resolution := states.New("resolution").String()
		if lo.Contains(securityResolutions, resolution) {
			return resolution
		}
		return unknownResolution
	}
	if states.New("keywords").Has(stalled) {
		return stalled
	}
	return ratingRemoved
}

// securityResolutionTable breaks the bugs that stopped being open rated
// security bugs in each window down by their resolution at the window end
func securityResolutionTable(ctx context.Context, in Input, rated *aggregate.Result) (report.Table, error) {
	reasons, err := in.aggregate(ctx, aggregate.Rule{
		Name:   "security-resolutions",
		Fields: securityFields,
		Classify: func(_ *history.Snapshot, _ history.Window, states history.States) (string, bool) {
			return in.closeReason(states), true
		},
	})
	if err != nil {
		return report.Table{}, err
	}

	labels := append(append([]string{}, securityResolutions...), stalled, ratingRemoved, unknownResolution)
	table := report.Table{Title: "Resolutions of closed security bugs", Columns: report.WindowLabels(rated)}
	rows := make([]report.Row, len(labels))
	for i, label := range labels {
		rows[i].Label = label
	}

	previous := sets.New[int]()
	for i, w := range rated.Windows {
		current := sets.New[int]()
		for _, rating := range securityRatings {
			current.Insert(rated.Bugs(w.Label, rating)...)
		}
		closed := previous.Difference(current)
		if i == 0 {
			closed = sets.New[int]()
		}
		for r, label := range labels {
			bugs := closed.Intersection(sets.New(reasons.Bugs(w.Label, label)...))
			closed = closed.Difference(bugs)
			if label == unknownResolution {
				// Bugs missing from the reasons, like ones moved to other products
				bugs = bugs.Union(closed)
			}
			rows[r].Cells = append(rows[r].Cells, report.CountCell(sets.List(bugs)))
		}
		previous = current
	}
	table.Rows = rows
	return table, nil
}
