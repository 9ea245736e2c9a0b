package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/search-conflict-checker/internal/app"
	"github.com/kurihiro0119/search-conflict-checker/internal/checker"
	"github.com/kurihiro0119/search-conflict-checker/internal/collector"
	"github.com/kurihiro0119/search-conflict-checker/internal/config"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/pkg/client"
)

// exitConflict is returned by check --fail-on-conflict when a critical or
// warning alert was raised.
const exitConflict = 2

var (
	cfgFile    string
	outputJSON bool
	remote     bool

	windowsFlag          string
	positionThreshold    float64
	impressionsThreshold float64
	fixturePath          string
	noStore              bool
	failOnConflict       bool

	listLimit int
)

var rootCmd = &cobra.Command{
	Use:   "conflict-check",
	Short: "Search ranking conflict checker",
	Long: `A CLI tool for detecting keyword cannibalization before publishing content.

It queries search performance data for a keyword and its variations across
several time windows, merges the results per URL, and reports which existing
pages already rank for the keyword.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var checkCmd = &cobra.Command{
	Use:   "check [keyword]",
	Short: "Check a keyword for ranking conflicts",
	Long:  `Run a conflict check for a keyword and print the classified alerts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var historyCmd = &cobra.Command{
	Use:   "history [keyword]",
	Short: "List stored reports",
	Long:  `List stored conflict reports, newest first, optionally for a single keyword.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var showCmd = &cobra.Command{
	Use:   "show [report-id]",
	Short: "Show a stored report",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var urlHistoryCmd = &cobra.Command{
	Use:   "url-history [url]",
	Short: "Show past alerts raised for a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runURLHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "send requests to the API server at API_ENDPOINT")

	checkCmd.Flags().StringVar(&windowsFlag, "windows", "", "comma-separated window day counts (default from CHECK_WINDOWS)")
	checkCmd.Flags().Float64Var(&positionThreshold, "position-threshold", 0, "position threshold (default from POSITION_THRESHOLD)")
	checkCmd.Flags().Float64Var(&impressionsThreshold, "impressions-threshold", 0, "impressions threshold (default from IMPRESSIONS_THRESHOLD)")
	checkCmd.Flags().StringVar(&fixturePath, "fixture", "", "answer queries from a JSON fixture instead of Search Console (default from FIXTURE_PATH)")
	checkCmd.Flags().BoolVar(&noStore, "no-store", false, "do not save the report")
	checkCmd.Flags().BoolVar(&failOnConflict, "fail-on-conflict", false, "exit with status 2 when a critical or warning alert is raised")

	historyCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of entries")
	urlHistoryCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of entries")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(urlHistoryCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// checkService is implemented by the local checker and by the API client
type checkService interface {
	Check(ctx context.Context, keyword string, opts checker.CheckOptions) (*domain.ConflictReport, error)
	GetReport(ctx context.Context, id string) (*domain.ConflictReport, error)
	ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error)
	URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error)
}

func loadConfig() (*config.Config, error) {
	var files []string
	if cfgFile != "" {
		files = append(files, cfgFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openService returns the service to run against and a cleanup func.
// needClient is false for commands that only read stored reports.
func openService(ctx context.Context, cfg *config.Config, needClient bool) (checkService, func(), error) {
	if remote {
		return &remoteService{api: client.NewClient(cfg.APIEndpoint)}, func() {}, nil
	}

	log := logger.NewWithOutput(cfg.LogLevel, os.Stderr)

	if noStore {
		cfg.StorageType = "none"
	}
	store, err := app.OpenStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}

	var metricsClient collector.MetricsClient
	if needClient {
		if fixturePath != "" {
			cfg.FixturePath = fixturePath
		}
		metricsClient, err = app.NewMetricsClient(ctx, cfg, cfg.FixturePath, log, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return app.NewChecker(cfg, metricsClient, store, log, nil), cleanup, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := checker.CheckOptions{
		Thresholds: domain.Thresholds{
			Position:    positionThreshold,
			Impressions: impressionsThreshold,
		},
	}
	if windowsFlag != "" {
		opts.Windows, err = config.ParseWindows(windowsFlag)
		if err != nil {
			return fmt.Errorf("invalid --windows: %w", err)
		}
	}

	ctx := cmd.Context()
	svc, cleanup, err := openService(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.Check(ctx, args[0], opts)
	partial, isPartial := apperrors.AsPartialFailure(err)
	if err != nil && !isPartial {
		return err
	}

	if outputJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if isPartial && partial.AllFailed() {
		return fmt.Errorf("every metrics query failed: %w", err)
	}
	if failOnConflict && report.HasConflict() {
		return &exitError{code: exitConflict}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, cleanup, err := openService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	keyword := ""
	if len(args) == 1 {
		keyword = args[0]
	}

	summaries, err := svc.ListReports(ctx, keyword, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	if outputJSON {
		if summaries == nil {
			summaries = []domain.ReportSummary{}
		}
		return printJSON(summaries)
	}

	printSummaries(summaries)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, cleanup, err := openService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.GetReport(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	printReport(report)
	return nil
}

func runURLHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, cleanup, err := openService(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := svc.URLHistory(ctx, args[0], listLimit)
	if err != nil {
		return fmt.Errorf("failed to get URL history: %w", err)
	}

	if outputJSON {
		if entries == nil {
			entries = []domain.URLHistoryEntry{}
		}
		return printJSON(entries)
	}

	printURLHistory(args[0], entries)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
