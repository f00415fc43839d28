package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/flagutil"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/metrics"
	"github.com/petr-muller/bzreport/internal/productdetails"
	"github.com/petr-muller/bzreport/internal/report"
	"github.com/petr-muller/bzreport/internal/report/storage"
	"github.com/petr-muller/bzreport/internal/reports"
	"github.com/petr-muller/bzreport/internal/service"
)

var knownFormats = sets.New("csv", "xlsx", "yaml", "txt")

type options struct {
	reports     string
	weeks       int
	versionMin  int
	outputDir   string
	formats     string
	withBugs    bool
	ascending   bool
	metricsFile string
	configDir   string
	mappings    string

	bugzilla flagutil.BugzillaOptions
}

func gatherOptions() options {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.StringVar(&o.reports, "reports", strings.Join(reports.Names(), ","), "Comma-separated reports to build")
	fs.IntVar(&o.weeks, "weeks", 12, "Number of weeks to report on")
	fs.IntVar(&o.versionMin, "version-min", 0, "Report on release cycles starting with this major version instead of weeks")
	fs.StringVar(&o.outputDir, "output-dir", "data", "Directory to write the reports to")
	fs.StringVar(&o.formats, "formats", "csv", "Comma-separated output formats (csv, xlsx, yaml, txt)")
	fs.BoolVar(&o.withBugs, "with-bugs", true, "Include bug lists in CSV output")
	fs.BoolVar(&o.ascending, "ascending", false, "Show the oldest window first")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "Write metrics of the run to this file in the Prometheus text format")
	fs.StringVar(&o.configDir, "config-dir", config.MustConfigDir(), "Directory with config.yaml")
	fs.StringVar(&o.mappings, "mappings", mappings.DefaultPath(), "Path to the component to team mappings")

	o.bugzilla.AddFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatalf("cannot parse args: '%s'", os.Args[1:])
	}

	return o
}

func split(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (o *options) validate() error {
	if len(split(o.reports)) == 0 {
		return fmt.Errorf("--reports must name at least one report")
	}
	for _, name := range split(o.reports) {
		if _, err := reports.Lookup(name); err != nil {
			return err
		}
	}
	for _, format := range split(o.formats) {
		if !knownFormats.Has(format) {
			return fmt.Errorf("--formats: unknown format %q, known formats: %s", format, strings.Join(sets.List(knownFormats), ", "))
		}
	}
	if o.weeks <= 0 && o.versionMin <= 0 {
		return fmt.Errorf("either --weeks or --version-min must be positive")
	}
	return o.bugzilla.Validate()
}

// loadTeams loads the team mappings, warning when there are none because team
// reports then put every bug under the unknown team
func loadTeams(path string) (*mappings.Mappings, error) {
	teams, err := mappings.LoadMappings(path)
	if err != nil {
		return nil, err
	}
	if teams.Empty() {
		logrus.Warnf("No team mappings in %s, run bzreport-sync-teams to fetch them", path)
	}
	return teams, nil
}

func main() {
	o := gatherOptions()
	if err := o.validate(); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	settings, err := config.LoadSettings(o.configDir)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load settings")
	}
	teams, err := loadTeams(o.mappings)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load team mappings")
	}

	m := metrics.New()
	client, err := o.bugzilla.Client(m)
	if err != nil {
		logrus.WithError(err).Fatal("cannot create Bugzilla client")
	}
	dataDir, err := storage.ReportsDataDir()
	if err != nil {
		logrus.WithError(err).Fatal("cannot determine data directory")
	}
	svc := service.NewService(client, storage.NewStore(dataDir), settings,
		service.WithReleases(productdetails.NewClient(productdetails.DefaultURL, nil)),
		service.WithTeams(teams.Teams()),
		service.WithMetrics(m),
	)

	windowOpts := service.WindowOptions{Weeks: o.weeks, VersionMin: o.versionMin}
	windows, err := svc.Windows(ctx, windowOpts)
	if err != nil {
		logrus.WithError(err).Fatal("cannot compute windows")
	}

	sinkOpts := report.Options{Ascending: o.ascending, WithBugs: o.withBugs}
	failed := 0
	for _, name := range split(o.reports) {
		logger := logrus.WithField("report", name)
		result, err := svc.Run(ctx, name, windows)
		if err != nil {
			logger.WithError(err).Error("cannot build report")
			failed++
			continue
		}
		if result.Comparison.HasChanges() {
			logger.Infof("%d cells changed since the previous run", len(result.Comparison.Changes))
		}
		for _, format := range split(o.formats) {
			path := filepath.Join(o.outputDir, name+"."+format)
			if err := os.MkdirAll(o.outputDir, 0755); err != nil {
				logrus.WithError(err).Fatal("cannot create output directory")
			}
			if err := report.WriteFile(path, result.Report, sinkOpts); err != nil {
				logger.WithError(err).Error("cannot write report")
				failed++
				continue
			}
			logger.Infof("Report written to %s", path)
		}
	}

	if o.metricsFile != "" {
		if err := m.WriteTextfile(o.metricsFile); err != nil {
			logrus.WithError(err).Error("cannot write metrics")
		}
	}
	if failed > 0 {
		logrus.Fatalf("%d reports or outputs failed", failed)
	}
}
