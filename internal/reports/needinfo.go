package reports

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/needinfo"
	"github.com/petr-muller/bzreport/internal/report"
)

// NeedinfoRule is a kind of needinfo request, recognized by the comment posted with it
type NeedinfoRule struct {
	Name  string
	Title string
	// Marker is a substring of the comment explaining the request, empty matches requests by anyone
	Marker string
	// ReactionFields are fields whose change shortly after the request was answered counts as a reaction
	ReactionFields []string
}

// Everybody tracks needinfo requests set by anyone
const Everybody = "everybody"

// NeedinfoRules are the requests set by the triage bot plus all requests
var NeedinfoRules = []NeedinfoRule{
	{Name: "assignee-no-login", Title: "Assignee has not logged into Bugzilla for 7 months", Marker: "The bug assignee didn't login in"},
	{Name: "leave-open-no-activity", Title: "leave-open keyword set but no recent activity", Marker: "The leave-open keyword is there and there is no activity"},
	{Name: "regression-author", Title: "User is developer of regressor", Marker: "since you are the author of the regressor"},
	{Name: "regressed-by-missing", Title: "'Regression' keyword set but 'Regressed By' empty", Marker: "could you fill (if possible) the regressed_by field", ReactionFields: []string{"regressed_by"}},
	{Name: "low-severity-many-votes", Title: "Low severity but many votes and CCs", Marker: "The severity field for this bug is relatively low", ReactionFields: []string{"severity"}},
	{Name: "low-severity-security-rating", Title: "Low severity but high security rating", Marker: "However, the bug is flagged with the", ReactionFields: []string{"severity"}},
	{Name: "low-severity-accessibility", Title: "Low severity but high accessibility severity", Marker: "the accessibility severity is higher", ReactionFields: []string{"severity"}},
	{Name: "severity-missing", Title: "Severity missing", Marker: "The severity field is not set for this bug.", ReactionFields: []string{"severity"}},
	{Name: "patch-not-landed", Title: "Patch reviewed but not landed", Marker: "which didn't land and no activity in this bug for"},
	{Name: "uplift-necessary", Title: "Uplift necessary? - patch landed but not for all affected branches", Marker: "is this bug important enough to require an uplift?"},
	{Name: "meta-without-dependencies", Title: "The meta keyword is there, the bug doesn't depend on other bugs and there is no activity", Marker: "The meta keyword is there, the bug doesn't depend on other bugs and there is no activity"},
	{Name: Everybody, Title: "Needinfo requests by everybody"},
}

func init() {
	register(Definition{
		Name:        "needinfo",
		Title:       "Needinfo requests",
		Description: "Needinfo requests set in each window by the triage bot and by everybody, by how fast they were answered",
		Fields:      []string{"product", "component", needinfo.FlagField},
		Comments:    true,
		Query: func(settings config.Settings, windows []history.Window) url.Values {
			start, end := span(windows)
			return newSearch(settings).
				where(needinfo.FlagField, "changedafter", bzDate(start)).
				where(needinfo.FlagField, "changedbefore", bzDate(end)).
				values
		},
		Build: buildNeedinfo,
	})
}

// Tracker creates the tracker recognizing requests of the rule
func (r NeedinfoRule) Tracker(settings config.Settings) *needinfo.Tracker {
	var tracker *needinfo.Tracker
	if r.Marker == "" {
		tracker = needinfo.NewTracker("", "", r.ReactionFields...)
	} else {
		tracker = needinfo.NewTracker(settings.NeedinfoBot, r.Marker, r.ReactionFields...)
	}
	tracker.FollowupLimit = settings.FollowupLimit
	tracker.CommentTolerance = settings.CommentTolerance
	return tracker
}

type windowed map[string][]needinfo.Interval

func track(tracker *needinfo.Tracker, snaps []*history.Snapshot, windows []history.Window) (windowed, error) {
	byWindow := windowed{}
	for _, snap := range snaps {
		intervals, err := tracker.Intervals(snap)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			byWindow[w.Label] = append(byWindow[w.Label], needinfo.InWindow(intervals, w)...)
		}
	}
	return byWindow, nil
}

// countCell counts requests, a bug may carry several of them
func countCell(intervals []needinfo.Interval) report.Cell {
	cell := report.CountCell(needinfo.BugIDs(intervals))
	cell.Count = len(intervals)
	return cell
}

func buildNeedinfo(ctx context.Context, in Input) ([]report.Table, error) {
	columns := lo.Map(in.Windows, func(w history.Window, _ int) string { return w.Label })
	var tables []report.Table

	var everybody windowed
	for _, rule := range NeedinfoRules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		byWindow, err := track(rule.Tracker(in.Settings), in.Snapshots, in.Windows)
		if err != nil {
			return nil, err
		}
		if rule.Name == Everybody {
			everybody = byWindow
		}
		tables = append(tables, ruleTable(rule, columns, byWindow))

		if len(in.Windows) > 0 {
			last := bucketCounts(byWindow[in.Windows[len(in.Windows)-1].Label])
			for bucket, n := range last {
				in.Metrics.SetNeedinfo(rule.Name, string(bucket), n)
			}
		}
	}

	var all []needinfo.Interval
	for _, label := range columns {
		all = append(all, everybody[label]...)
	}
	tables = append(tables, teamTable(in, all))
	return tables, nil
}

func bucketCounts(intervals []needinfo.Interval) map[needinfo.Bucket]int {
	stats := needinfo.Summarize(intervals)
	return map[needinfo.Bucket]int{
		needinfo.AnsweredWithinWeek:     stats.AnsweredWithin1W,
		needinfo.AnsweredWithinTwoWeeks: stats.AnsweredWithin2W,
		needinfo.AnsweredLater:          stats.AnsweredLater,
		needinfo.Unanswered:             stats.Unanswered,
	}
}

func ruleTable(rule NeedinfoRule, columns []string, byWindow windowed) report.Table {
	table := report.Table{Title: rule.Title, Columns: columns}

	requested := report.Row{Label: "Needinfo requests set"}
	for _, label := range columns {
		requested.Cells = append(requested.Cells, countCell(byWindow[label]))
	}
	table.Rows = append(table.Rows, requested)

	for _, bucket := range needinfo.Buckets {
		row := report.Row{Label: string(bucket)}
		for _, label := range columns {
			inBucket := lo.Filter(byWindow[label], func(i needinfo.Interval, _ int) bool { return i.Bucket() == bucket })
			row.Cells = append(row.Cells, countCell(inBucket))
		}
		table.Rows = append(table.Rows, row)
	}

	if len(rule.ReactionFields) == 0 {
		return table
	}
	reacted := report.Row{Label: "Action by users"}
	share := report.Row{Label: "Action by users [share]"}
	for _, label := range columns {
		reactions := lo.Filter(byWindow[label], func(i needinfo.Interval, _ int) bool { return !i.Open() && i.Reaction })
		reacted.Cells = append(reacted.Cells, countCell(reactions))
		share.Cells = append(share.Cells, report.ShareCell(needinfo.Summarize(byWindow[label]).ReactionShare()))
	}
	table.Rows = append(table.Rows, reacted, share)
	return table
}

// teamTable buckets all requests of the report period by the team owning the bug
func teamTable(in Input, intervals []needinfo.Interval) report.Table {
	bugs := lo.SliceToMap(in.Snapshots, func(s *history.Snapshot) (int, *history.Snapshot) { return s.ID, s })
	byTeam := needinfo.GroupBy(intervals, func(i needinfo.Interval) string {
		snap := bugs[i.BugID]
		return in.Teams.Team(snap.Fields["product"].String(), snap.Fields["component"].String())
	})
	teams := lo.Keys(byTeam)
	sort.Strings(teams)

	table := report.Table{Title: "Needinfo requests by everybody per team", Columns: teams}
	for _, bucket := range needinfo.Buckets {
		row := report.Row{Label: string(bucket)}
		for _, team := range teams {
			inBucket := lo.Filter(byTeam[team], func(i needinfo.Interval, _ int) bool { return i.Bucket() == bucket })
			row.Cells = append(row.Cells, countCell(inBucket))
		}
		table.Rows = append(table.Rows, row)
	}
	median := report.Row{Label: "Median time to answer"}
	for _, team := range teams {
		median.Cells = append(median.Cells, report.Cell{Text: medianAnswer(byTeam[team])})
	}
	table.Rows = append(table.Rows, median)
	return table
}

func medianAnswer(intervals []needinfo.Interval) string {
	answered := lo.FilterMap(intervals, func(i needinfo.Interval, _ int) (time.Duration, bool) {
		return i.Duration(), !i.Open()
	})
	if len(answered) == 0 {
		return "-"
	}
	sort.Slice(answered, func(i, j int) bool { return answered[i] < answered[j] })
	return fmt.Sprintf("%.1f days", answered[len(answered)/2].Hours()/24)
}
