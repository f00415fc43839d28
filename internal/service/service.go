package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/aggregate"
	"github.com/petr-muller/bzreport/internal/bugzilla"
	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/metrics"
	"github.com/petr-muller/bzreport/internal/productdetails"
	"github.com/petr-muller/bzreport/internal/report"
	"github.com/petr-muller/bzreport/internal/report/compare"
	"github.com/petr-muller/bzreport/internal/report/storage"
	"github.com/petr-muller/bzreport/internal/reports"
	"github.com/petr-muller/bzreport/internal/windows"
)

// BugSource fetches bugs and product configuration from Bugzilla
type BugSource interface {
	SearchBugs(ctx context.Context, params url.Values, fields ...string) ([]bugzilla.Bug, error)
	GetBugs(ctx context.Context, ids []int, fields ...string) ([]bugzilla.Bug, error)
	Configuration(ctx context.Context) (*bugzilla.Configuration, error)
	Endpoint() string
}

// ReleaseSource provides dates of major releases
type ReleaseSource interface {
	MajorReleases(ctx context.Context) ([]productdetails.Release, error)
}

// Service orchestrates fetching bugs, building reports and storing them
type Service struct {
	bugs     BugSource
	releases ReleaseSource
	store    *storage.Store
	settings config.Settings
	teams    *mappings.Teams
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures optional parts of the service
type Option func(*Service)

// WithReleases sets the source of release dates for release cycle windows
func WithReleases(releases ReleaseSource) Option {
	return func(s *Service) { s.releases = releases }
}

// WithTeams sets the component to team mapping, reports fall back to the unknown team without it
func WithTeams(teams *mappings.Teams) Option {
	return func(s *Service) { s.teams = teams }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces the current time
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new service instance
func NewService(bugs BugSource, store *storage.Store, settings config.Settings, opts ...Option) *Service {
	s := &Service{
		bugs:     bugs,
		store:    store,
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunResult is a freshly built report compared to its previous run
type RunResult struct {
	Report     *report.Report
	Comparison *compare.Comparison
	// Previous is the creation time of the previous run, zero when there was none
	Previous time.Time
}

// Run builds the named report over the windows, compares it with the
// previous run and stores it
func (s *Service) Run(ctx context.Context, name string, ws []history.Window) (*RunResult, error) {
	definition, err := reports.Lookup(name)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, errors.New("at least one window is needed")
	}
	if err := history.ValidateWindows(ws); err != nil {
		return nil, err
	}
	if err := s.settings.Fields.Require(definition.Fields...); err != nil {
		return nil, fmt.Errorf("report %s: %w", name, err)
	}

	previous, err := s.store.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous run: %w", err)
	}

	started := s.now()
	logrus.WithField("report", name).Infof("Searching bugs for %d windows from %s to %s", len(ws), ws[0].Start.Format(time.DateOnly), ws[len(ws)-1].End.Format(time.DateOnly))
	bugs, err := s.fetch(ctx, definition, ws)
	if err != nil {
		return nil, err
	}
	logrus.WithField("report", name).Infof("Fetched %s bugs", humanize.Comma(int64(len(bugs))))

	snapshots, err := bugzilla.ToSnapshots(bugs, s.settings.Fields)
	if err != nil {
		return nil, s.reconstructionFailed(name, err)
	}

	tables, err := definition.Build(ctx, reports.Input{
		Snapshots:  snapshots,
		Windows:    ws,
		Settings:   s.settings,
		Teams:      s.teams,
		Aggregator: &aggregate.Aggregator{Concurrency: s.settings.Concurrency},
		Metrics:    s.metrics,
	})
	if err != nil {
		return nil, s.reconstructionFailed(name, err)
	}

	current := &report.Report{
		Name:     name,
		Title:    definition.Title,
		Created:  s.now(),
		Endpoint: s.bugs.Endpoint(),
		Tables:   tables,
	}
	result := &RunResult{Report: current, Comparison: compare.CompareReports(current, previous)}
	if previous != nil {
		result.Previous = previous.Created
	}

	if err := s.store.Save(current); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	took := s.now().Sub(started)
	s.metrics.ReportBuilt(name, took)
	logrus.WithField("report", name).Infof("Built %d tables in %s", len(tables), took.Round(time.Millisecond))
	return result, nil
}

// fetch returns the bugs of the report. Results of several searches are merged
// by collecting bug ids first and fetching the bugs once.
func (s *Service) fetch(ctx context.Context, definition reports.Definition, ws []history.Window) ([]bugzilla.Bug, error) {
	searches := definition.Searches(s.settings, ws)
	if len(searches) == 1 {
		bugs, err := s.bugs.SearchBugs(ctx, searches[0], definition.IncludeFields()...)
		if err != nil {
			return nil, fmt.Errorf("failed to search bugs: %w", err)
		}
		return bugs, nil
	}

	ids := sets.New[int]()
	for _, params := range searches {
		found, err := s.bugs.SearchBugs(ctx, params, "id")
		if err != nil {
			return nil, fmt.Errorf("failed to search bugs: %w", err)
		}
		for _, bug := range found {
			ids.Insert(bug.ID)
		}
	}
	logrus.WithField("report", definition.Name).Debugf("%d searches matched %d bugs", len(searches), ids.Len())
	if ids.Len() == 0 {
		return nil, nil
	}
	bugs, err := s.bugs.GetBugs(ctx, sets.List(ids), definition.IncludeFields()...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bugs: %w", err)
	}
	return bugs, nil
}

func (s *Service) reconstructionFailed(name string, err error) error {
	var malformed *history.MalformedSnapshotError
	if errors.As(err, &malformed) {
		s.metrics.ReconstructionFailed(name)
		logrus.WithFields(logrus.Fields{
			"report": name,
			"bug":    malformed.BugID,
			"field":  malformed.Field,
		}).Error("Cannot reconstruct bug history")
	}
	return fmt.Errorf("failed to build report %s: %w", name, err)
}

// Inspect returns the stored run of the report
func (s *Service) Inspect(name string) (*report.Report, error) {
	stored, err := s.store.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("report '%s' not found", name)
	}
	return stored, nil
}

// ListReports returns summaries of all stored reports
func (s *Service) ListReports() ([]storage.ReportListItem, error) {
	return s.store.ListDetailed()
}

// DeleteReport removes a stored report
func (s *Service) DeleteReport(name string) error {
	return s.store.Delete(name)
}

// ReportExists checks if a report exists in storage
func (s *Service) ReportExists(name string) bool {
	return s.store.Exists(name)
}

// WindowOptions select the windows of a report run. Release cycles take
// precedence over an explicit date range, which takes precedence over the
// last weeks.
type WindowOptions struct {
	Weeks      int
	From       time.Time
	Until      time.Time
	VersionMin int
}

// Windows computes the windows selected by the options
func (s *Service) Windows(ctx context.Context, opts WindowOptions) ([]history.Window, error) {
	now := s.now().UTC()
	switch {
	case opts.VersionMin > 0:
		if s.releases == nil {
			return nil, errors.New("no source of release dates configured")
		}
		releases, err := s.releases.MajorReleases(ctx)
		if err != nil {
			return nil, err
		}
		return windows.ReleaseCycles(releases, opts.VersionMin, now)
	case !opts.From.IsZero():
		until := opts.Until
		if until.IsZero() {
			until = windows.PreviousSunday(now)
		}
		return windows.Weekly(opts.From, until)
	case opts.Weeks > 0:
		return windows.LastWeeks(now, opts.Weeks), nil
	default:
		return nil, errors.New("either weeks, a start date or a minimal version is needed")
	}
}

// SyncTeams refreshes the component to team mapping stored at path from the
// Bugzilla configuration and returns the number of changed components
func (s *Service) SyncTeams(ctx context.Context, path string) (int, error) {
	configuration, err := s.bugs.Configuration(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch Bugzilla configuration: %w", err)
	}
	current, err := mappings.LoadMappings(path)
	if err != nil {
		return 0, err
	}
	changed := current.UpdateFrom(mappings.FromConfiguration(configuration))
	if err := current.SaveMappings(path); err != nil {
		return 0, err
	}
	s.teams = current.Teams()
	logrus.Infof("Updated %s components in %s", humanize.Comma(int64(changed)), path)
	return changed, nil
}
