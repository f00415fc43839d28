package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/petr-muller/bzreport/internal/config"
	"github.com/petr-muller/bzreport/internal/flagutil"
	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/mappings"
	"github.com/petr-muller/bzreport/internal/metrics"
	"github.com/petr-muller/bzreport/internal/productdetails"
	"github.com/petr-muller/bzreport/internal/report"
	"github.com/petr-muller/bzreport/internal/report/storage"
	"github.com/petr-muller/bzreport/internal/reports"
	"github.com/petr-muller/bzreport/internal/service"
	"github.com/petr-muller/bzreport/internal/ui"
)

type globalOptions struct {
	bugzilla     flagutil.BugzillaOptions
	configDir    string
	mappingsPath string
	metricsFile  string
	logLevel     string
}

type outputOptions struct {
	outputs   []string
	ascending bool
	withBugs  bool
	noTUI     bool
}

func (o outputOptions) sinkOptions() report.Options {
	return report.Options{Ascending: o.ascending, WithBugs: o.withBugs}
}

var global globalOptions

func main() {
	rootCmd := &cobra.Command{
		Use:   "bzreport",
		Short: "Build weekly and per-release reports from Bugzilla bug histories",
		Long: `bzreport reconstructs the state of Bugzilla bugs at the end of consecutive
time windows from their change history and aggregates them into reports.

Reports are stored after each run so that the next run shows what changed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(global.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			logrus.SetLevel(level)
			global.bugzilla.SetFromPFlags(cmd.Flags())
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	global.bugzilla.AddPFlags(flags)
	flags.StringVar(&global.configDir, "config-dir", config.MustConfigDir(), "Directory with config.yaml")
	flags.StringVar(&global.mappingsPath, "mappings", mappings.DefaultPath(), "Path to the component to team mappings")
	flags.StringVar(&global.metricsFile, "metrics-file", "", "Write metrics of the run to this file in the Prometheus text format")
	flags.StringVar(&global.logLevel, "log-level", logrus.InfoLevel.String(), "Log level")

	rootCmd.AddCommand(
		newRunCmd(),
		newReportsCmd(),
		newViewCmd(),
		newListCmd(),
		newDeleteCmd(),
		newSyncTeamsCmd(),
	)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logrus.WithError(err).Fatal("command failed")
	}
}

func addOutputFlags(cmd *cobra.Command, o *outputOptions) {
	cmd.Flags().StringSliceVarP(&o.outputs, "output", "o", nil, "Write the report to a file, the format follows the extension (.csv, .yaml, .xlsx, .txt)")
	cmd.Flags().BoolVar(&o.ascending, "ascending", false, "Show the oldest window first")
	cmd.Flags().BoolVar(&o.withBugs, "with-bugs", false, "Include bug lists in CSV output")
	cmd.Flags().BoolVar(&o.noTUI, "no-tui", false, "Print the report instead of browsing it")
}

func newRunCmd() *cobra.Command {
	var (
		out        outputOptions
		weeks      int
		from       string
		until      string
		versionMin int
	)
	cmd := &cobra.Command{
		Use:   "run <report>",
		Short: "Build a report and compare it with its previous run",
		Long: `Build a report over consecutive windows. Windows are the last --weeks weeks
ending on Sunday by default, weeks between --from and --until, or release
cycles of Firefox major versions from --version-min on.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: reports.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.WindowOptions{Weeks: weeks, VersionMin: versionMin}
			var err error
			if opts.From, err = parseDate("from", from); err != nil {
				return err
			}
			if opts.Until, err = parseDate("until", until); err != nil {
				return err
			}
			return runReport(cmd.Context(), args[0], opts, out)
		},
	}

	cmd.Flags().IntVarP(&weeks, "weeks", "w", 12, "Number of weeks to report on")
	cmd.Flags().StringVar(&from, "from", "", "First day of the report (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Day after the report ends (YYYY-MM-DD), defaults to the last Sunday")
	cmd.Flags().IntVar(&versionMin, "version-min", 0, "Report on release cycles starting with this major version")
	addOutputFlags(cmd, &out)
	return cmd
}

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return parsed, nil
}

func newReportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reports",
		Short: "List reports that can be built",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Report", "Description"})
			for _, definition := range reports.All() {
				t.AppendRow(table.Row{definition.Name, definition.Description})
			}
			t.Render()
			return nil
		},
	}
}

func newViewCmd() *cobra.Command {
	var out outputOptions
	cmd := &cobra.Command{
		Use:   "view <report>",
		Short: "Show the last stored run of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := createService()
			if err != nil {
				return err
			}
			stored, err := svc.Inspect(args[0])
			if err != nil {
				return err
			}
			return present(&service.RunResult{Report: stored}, out)
		},
	}
	addOutputFlags(cmd, &out)
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := createService()
			if err != nil {
				return err
			}
			items, err := svc.ListReports()
			if err != nil {
				return fmt.Errorf("cannot list reports: %w", err)
			}
			if len(items) == 0 {
				fmt.Println("No stored reports found")
				return nil
			}

			fmt.Println("Stored reports:")
			for _, item := range items {
				fmt.Printf("  - %s - %s (%d tables, %s bugs, built %s)\n",
					item.Name, item.Title, item.Tables, humanize.Comma(int64(item.Bugs)), humanize.Time(item.Created))
			}
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <report>",
		Short: "Delete a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := createService()
			if err != nil {
				return err
			}
			if !svc.ReportExists(args[0]) {
				return fmt.Errorf("report '%s' not found", args[0])
			}
			if err := svc.DeleteReport(args[0]); err != nil {
				return fmt.Errorf("cannot delete report: %w", err)
			}
			fmt.Printf("Report '%s' deleted successfully\n", args[0])
			return nil
		},
	}
}

func newSyncTeamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-teams",
		Short: "Update the component to team mappings from Bugzilla",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, m, err := createService()
			if err != nil {
				return err
			}
			changed, err := svc.SyncTeams(cmd.Context(), global.mappingsPath)
			if err != nil {
				return err
			}
			fmt.Printf("%d components changed their team\n", changed)
			return writeMetrics(m)
		},
	}
}

func createService() (*service.Service, *metrics.Metrics, error) {
	if err := global.bugzilla.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid Bugzilla options: %w", err)
	}
	settings, err := config.LoadSettings(global.configDir)
	if err != nil {
		return nil, nil, err
	}
	teams, err := mappings.LoadMappings(global.mappingsPath)
	if err != nil {
		return nil, nil, err
	}
	if teams.Empty() {
		logrus.Warnf("No team mappings in %s, run sync-teams to fetch them", global.mappingsPath)
	}

	m := metrics.New()
	client, err := global.bugzilla.Client(m)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create Bugzilla client: %w", err)
	}

	dataDir, err := storage.ReportsDataDir()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot determine data directory: %w", err)
	}

	svc := service.NewService(client, storage.NewStore(dataDir), settings,
		service.WithReleases(productdetails.NewClient(productdetails.DefaultURL, nil)),
		service.WithTeams(teams.Teams()),
		service.WithMetrics(m),
	)
	return svc, m, nil
}

func runReport(ctx context.Context, name string, opts service.WindowOptions, out outputOptions) error {
	if _, err := reports.Lookup(name); err != nil {
		return err
	}
	svc, m, err := createService()
	if err != nil {
		return err
	}

	var windows []history.Window
	var result *service.RunResult
	build := func() error {
		var err error
		if windows, err = svc.Windows(ctx, opts); err != nil {
			return fmt.Errorf("cannot compute windows: %w", err)
		}
		if result, err = svc.Run(ctx, name, windows); err != nil {
			return err
		}
		return nil
	}

	if out.noTUI {
		err = build()
	} else {
		err = ui.RunWithProgress(fmt.Sprintf("Building %s report", name), build)
	}
	if metricsErr := writeMetrics(m); metricsErr != nil {
		logrus.WithError(metricsErr).Warn("Cannot write metrics")
	}
	if err != nil {
		return err
	}
	return present(result, out)
}

func present(result *service.RunResult, out outputOptions) error {
	for _, path := range out.outputs {
		if err := report.WriteFile(path, result.Report, out.sinkOptions()); err != nil {
			return err
		}
		logrus.Infof("Report written to %s", path)
	}

	if out.noTUI {
		if err := report.Render(os.Stdout, result.Report, out.sinkOptions()); err != nil {
			return err
		}
		if result.Comparison != nil && result.Comparison.HasChanges() {
			fmt.Printf("%d cells changed since %s\n", len(result.Comparison.Changes), humanize.Time(result.Previous))
		}
		return nil
	}

	model := ui.NewModel(result.Report, result.Comparison, result.Previous, out.sinkOptions())
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("cannot run TUI: %w", err)
	}
	return nil
}

func writeMetrics(m *metrics.Metrics) error {
	if global.metricsFile == "" {
		return nil
	}
	return m.WriteTextfile(global.metricsFile)
}
