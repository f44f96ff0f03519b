package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/aggregator"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/collector"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/config"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	apperrors "github.com/kurihiro0119/devops-activity-snapshot/internal/errors"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/logging"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/runner"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage/postgres"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/storage/sqlite"
	"github.com/kurihiro0119/devops-activity-snapshot/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool

	every       time.Duration
	concurrency int
	noProgress  bool

	olderThan int
	runLimit  int
)

var rootCmd = &cobra.Command{
	Use:   "devops-snapshot",
	Short: "Azure DevOps project activity snapshot tool",
	Long: `A CLI tool for taking activity snapshots of an Azure DevOps organization.

Each collection run lists the projects of the organization, gathers their
process template, administrators, latest work item and latest commit, and
publishes the records together with a run status.`,
	SilenceUsage: true,
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect a snapshot from Azure DevOps",
	Long:  `Collect the activity of every project and replace the published snapshot.`,
	Args:  cobra.NoArgs,
	RunE:  runCollect,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the published project activity",
	Long:  `Display the project activity records of the last successful run.`,
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the run ledger",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .env or .yaml (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	collectCmd.Flags().DurationVar(&every, "every", 0, "repeat the collection at this interval instead of running once")
	collectCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of projects processed at the same time (overrides CONCURRENCY)")
	collectCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw a progress bar")

	for _, cmd := range []*cobra.Command{showCmd, statusCmd, runsCmd} {
		cmd.Flags().BoolVar(&remote, "remote", false, "read from the API server at API_ENDPOINT instead of local files")
	}
	showCmd.Flags().IntVar(&olderThan, "older-than", 0, "only list projects without activity for this many days")
	runsCmd.Flags().IntVar(&runLimit, "limit", storage.DefaultRunLimit, "maximum number of runs to list")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// stdout is reserved for command output
	logger, err := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

// getStorage opens the run ledger; it returns nil when the ledger is disabled
func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "none":
		return nil, nil
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ledger, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if ledger != nil {
		defer ledger.Close()
	}

	devops := collector.NewClient(collector.ClientConfig{
		BaseURI:     cfg.DevOpsURI,
		Token:       cfg.DevOpsPAT,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.HTTPTimeout,
		RateLimiter: collector.NewRateLimiter(cfg.RequestsPerSecond, logger),
		Logger:      logger,
	})
	agg := aggregator.NewAggregator(collector.NewDevOpsCollector(devops), aggregator.Options{
		BaseURI:     cfg.DevOpsURI,
		MaxProjects: cfg.MaxProjects,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	})
	run := runner.NewRunner(agg, snapshot.NewStore(cfg.SnapshotDir), runner.Options{
		BaseURI: cfg.DevOpsURI,
		Ledger:  ledger,
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if every <= 0 {
		return collectOnce(ctx, run)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := collectOnce(ctx, run); err != nil {
			// a scheduled run retries on the next tick, even with a rejected token
			logger.Error("collection failed", "error", err, "next_run", time.Now().Add(every).Format(time.RFC3339))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func collectOnce(ctx context.Context, run *runner.Runner) error {
	var onProgress collector.ProgressCallback
	var bar *progressbar.ProgressBar
	if !noProgress && !outputJSON {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Collecting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
		onProgress = func(project string, progress float64) {
			bar.Describe(project)
			_ = bar.Set(int(progress * 100))
		}
	}

	status, err := run.Run(ctx, onProgress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if outputJSON {
		if printErr := printJSON(status); printErr != nil {
			return printErr
		}
	} else if status != nil {
		fmt.Println(status.Message)
	}
	return err
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var records []*domain.ProjectActivity
	if remote {
		records, err = client.NewClient(cfg.APIEndpoint).GetData(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get data: %w", err)
		}
	} else {
		records, err = snapshot.NewStore(cfg.SnapshotDir).ReadActivities()
		if apperrors.IsNotFound(err) {
			return errors.New(snapshot.NoDataMessage)
		}
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
	}

	now := time.Now()
	if olderThan > 0 {
		filtered := records[:0]
		for _, r := range records {
			if r.ProjectAge(now) >= float64(olderThan) {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if outputJSON {
		return printJSON(records)
	}

	// stalest first
	sorted := append([]*domain.ProjectActivity(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastKnownActivity().Before(sorted[j].LastKnownActivity())
	})

	fmt.Printf("\nProject Activity (%d projects)\n\n", len(sorted))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Project", "Process", "Owners", "Last Commit", "Last Work Item", "Last Activity", "Age (days)"})
	for _, r := range sorted {
		table.Append([]string{
			r.Name,
			r.ProcessTemplate,
			ownerNames(r.Owners),
			formatDate(r.LastCommitDate),
			formatDate(r.LastWorkItemDate),
			formatDate(r.LastKnownActivity()),
			fmt.Sprintf("%.0f", r.ProjectAge(now)),
		})
	}
	table.Render()

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var status *domain.RunStatus
	if remote {
		status, err = client.NewClient(cfg.APIEndpoint).GetStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
	} else {
		status, err = snapshot.NewStore(cfg.SnapshotDir).ReadStatus()
		if err != nil {
			status = &domain.RunStatus{Error: true, Message: snapshot.NoDataMessage}
		}
	}

	if outputJSON {
		return printJSON(status)
	}

	result := "succeeded"
	if status.Error {
		result = "failed"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Date", formatTime(status.Date)})
	table.Append([]string{"Result", result})
	table.Append([]string{"Message", status.Message})
	table.Render()

	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var runs []*domain.CollectionRun
	if remote {
		runs, err = client.NewClient(cfg.APIEndpoint).GetRuns(cmd.Context(), runLimit)
		if err != nil {
			return fmt.Errorf("failed to get runs: %w", err)
		}
	} else {
		if err := cfg.ValidateStorage(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		ledger, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		if ledger == nil {
			return errors.New("run ledger is disabled (STORAGE_TYPE=none)")
		}
		defer ledger.Close()

		runs, err = ledger.GetRuns(cmd.Context(), runLimit)
		if err != nil {
			return fmt.Errorf("failed to get runs: %w", err)
		}
	}

	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "Started", "Duration", "State", "Projects", "Message"})
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		table.Append([]string{
			r.ID,
			formatTime(r.StartedAt),
			duration,
			string(r.State),
			fmt.Sprintf("%d", r.ProjectCount),
			r.Message,
		})
	}
	table.Render()

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ownerNames(owners []domain.Owner) string {
	names := make([]string, 0, len(owners))
	for _, o := range owners {
		names = append(names, o.DisplayName)
	}
	return strings.Join(names, ", ")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
