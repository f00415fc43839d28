package reports

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/metrics"
	"github.com/petr-muller/bzreport/internal/report"
)

// Input is everything a definition needs to build its tables
type Input struct {
	Snapshots  []*history.Snapshot
	Windows    []history.Window
	Settings   config.Settings
	Teams      *mappings.Teams
	Aggregator *aggregate.Aggregator
	Metrics    *metrics.Metrics
}

func (in Input) aggregate(ctx context.Context, rule aggregate.Rule) (*aggregate.Result, error) {
	if in.Aggregator == nil {
		return aggregate.Aggregate(ctx, in.Snapshots, in.Windows, rule)
	}
	return in.Aggregator.Aggregate(ctx, in.Snapshots, in.Windows, rule)
}

func (in Input) open(states history.States) bool {
	return states.New("status").In(in.Settings.OpenStatuses...)
}

// Definition describes how a report queries Bugzilla and builds its tables
type Definition struct {
	Name        string
	Title       string
	Description string
	// Fields are reconstructed from the history and must be in the field schema
	Fields []string
	// Comments requests bug comments in addition to the history
	Comments bool
	Query    func(settings config.Settings, windows []history.Window) url.Values
	// Queries replaces Query for reports whose bugs are the union of several searches
	Queries func(settings config.Settings, windows []history.Window) []url.Values
	Build   func(ctx context.Context, in Input) ([]report.Table, error)
}

// Searches returns the Bugzilla searches of the definition
func (d Definition) Searches(settings config.Settings, windows []history.Window) []url.Values {
	if d.Queries != nil {
		return d.Queries(settings, windows)
	}
	if d.Query == nil {
		return nil
	}
	return []url.Values{d.Query(settings, windows)}
}

// IncludeFields returns the Bugzilla fields to fetch for the definition
func (d Definition) IncludeFields() []string {
	fields := append([]string{"id", "creation_time", "history"}, d.Fields...)
	if d.Comments {
		fields = append(fields, "comments")
	}
	return lo.Uniq(fields)
}

var registry = map[string]Definition{}

func register(d Definition) {
	if _, exists := registry[d.Name]; exists {
		panic(fmt.Sprintf("report %q registered twice", d.Name))
	}
	registry[d.Name] = d
}

// Lookup returns the definition of the named report
func Lookup(name string) (Definition, error) {
	d, ok := registry[name]
	if !ok {
		return Definition{}, fmt.Errorf("unknown report %q (known reports: %v)", name, Names())
	}
	return d, nil
}

// Names returns names of all known reports, sorted
func Names() []string {
	names := lo.Keys(registry)
	sort.Strings(names)
	return names
}

// All returns all known definitions ordered by name
func All() []Definition {
	return lo.Map(Names(), func(name string, _ int) Definition { return registry[name] })
}

// search builds Bugzilla custom search parameters
type search struct {
	values url.Values
	n      int
}

func newSearch(settings config.Settings) *search {
	s := &search{values: url.Values{}}
	for _, product := range settings.Products {
		s.values.Add("product", product)
	}
	return s
}

func (s *search) set(key, value string) *search {
	s.values.Set(key, value)
	return s
}

func (s *search) where(field, operator, value string) *search {
	s.n++
	n := strconv.Itoa(s.n)
	s.values.Set("f"+n, field)
	s.values.Set("o"+n, operator)
	s.values.Set("v"+n, value)
	return s
}

// anyOf opens a group of conditions joined by OR, closed by end
func (s *search) anyOf() *search {
	s.n++
	n := strconv.Itoa(s.n)
	s.values.Set("f"+n, "OP")
	s.values.Set("j"+n, "OR")
	return s
}

// sameChange opens a group of conditions that must all match a single change, closed by end
func (s *search) sameChange() *search {
	s.n++
	n := strconv.Itoa(s.n)
	s.values.Set("f"+n, "OP")
	s.values.Set("j"+n, "AND_G")
	return s
}

func (s *search) end() *search {
	s.n++
	s.values.Set("f"+strconv.Itoa(s.n), "CP")
	return s
}

func bzDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func span(windows []history.Window) (time.Time, time.Time) {
	if len(windows) == 0 {
		return time.Time{}, time.Time{}
	}
	return windows[0].Start, windows[len(windows)-1].End
}

// openDuringQuery matches defects created before the last window ends that
// are open now or were resolved after the first window started
func openDuringQuery(settings config.Settings, windows []history.Window) *search {
	start, end := span(windows)
	return newSearch(settings).
		set("bug_type", "defect").
		where("creation_ts", "lessthan", bzDate(end)).
		anyOf().
		where("resolution", "equals", "---").
		where("resolution", "changedafter", bzDate(start)).
		end()
}
