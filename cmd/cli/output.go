package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/kurihiro0119/search-conflict-checker/internal/checker"
	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/pkg/client"
)

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// remoteService runs commands against the API server
type remoteService struct {
	api *client.Client
}

func (r *remoteService) Check(ctx context.Context, keyword string, opts checker.CheckOptions) (*domain.ConflictReport, error) {
	result, err := r.api.Check(ctx, client.CheckRequest{
		Keyword:              keyword,
		Windows:              opts.Windows,
		PositionThreshold:    opts.Thresholds.Position,
		ImpressionsThreshold: opts.Thresholds.Impressions,
	})
	if err != nil {
		return nil, err
	}
	if result.Partial {
		return result.Report, &apperrors.PartialFailure{Report: result.Report, Failed: result.Report.FailedQueries}
	}
	return result.Report, nil
}

func (r *remoteService) GetReport(ctx context.Context, id string) (*domain.ConflictReport, error) {
	result, err := r.api.GetCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	return result.Report, nil
}

func (r *remoteService) ListReports(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error) {
	return r.api.ListChecks(ctx, keyword, limit)
}

func (r *remoteService) URLHistory(ctx context.Context, url string, limit int) ([]domain.URLHistoryEntry, error) {
	return r.api.URLHistory(ctx, url, limit)
}

func printReport(report *domain.ConflictReport) {
	fmt.Printf("\nConflict Check: %s\n", report.Keyword)
	if report.ID != "" {
		fmt.Printf("Report: %s (%s)\n", report.ID, report.CheckedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("Variations: %s\n", strings.Join(report.Variations, ", "))
	fmt.Printf("Windows: %s\n", windowLabels(report.Windows))
	fmt.Printf("Thresholds: position <= %g, impressions >= %g\n\n", report.Thresholds.Position, report.Thresholds.Impressions)

	if len(report.Alerts) == 0 {
		fmt.Println("No ranking conflicts found. Safe to create new content.")
	} else {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Tier", "URL", "Window", "Impressions", "Clicks", "CTR", "Position"})
		for _, a := range report.Alerts {
			table.Append([]string{
				strings.ToUpper(string(a.Tier)),
				a.URL,
				domain.WindowLabel(a.WindowDays),
				fmt.Sprintf("%d", a.Metrics.Impressions),
				fmt.Sprintf("%d", a.Metrics.Clicks),
				fmt.Sprintf("%.2f%%", a.Metrics.CTR),
				fmt.Sprintf("%.1f", a.Metrics.Position),
			})
		}
		table.Render()

		fmt.Println()
		for _, a := range report.Alerts {
			fmt.Printf("- %s: %s\n", a.URL, a.Recommendation)
		}
	}

	if candidate, ok := report.UpdateCandidate(); ok {
		fmt.Printf("\nUpdate candidate: %s\n", candidate)
	}

	if report.Partial() {
		fmt.Fprintf(os.Stderr, "\nWarning: %d metrics queries failed, the report may be incomplete:\n", len(report.FailedQueries))
		for _, f := range report.FailedQueries {
			fmt.Fprintf(os.Stderr, "  %q (%s): %s %s\n", f.Variation, domain.WindowLabel(f.WindowDays), f.Code, f.Message)
		}
	}
}

func printSummaries(summaries []domain.ReportSummary) {
	if len(summaries) == 0 {
		fmt.Println("No stored reports.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Keyword", "Critical", "Warning", "Info", "Partial", "Checked At"})
	for _, s := range summaries {
		table.Append([]string{
			s.ID,
			s.Keyword,
			fmt.Sprintf("%d", s.Critical),
			fmt.Sprintf("%d", s.Warning),
			fmt.Sprintf("%d", s.Info),
			fmt.Sprintf("%t", s.Partial),
			s.CheckedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}

func printURLHistory(url string, entries []domain.URLHistoryEntry) {
	fmt.Printf("\nURL History: %s\n\n", url)
	if len(entries) == 0 {
		fmt.Println("No alerts recorded for this URL.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Checked At", "Keyword", "Tier", "Impressions", "Clicks", "Position", "Report"})
	for _, e := range entries {
		table.Append([]string{
			e.CheckedAt.Format("2006-01-02 15:04"),
			e.Keyword,
			strings.ToUpper(string(e.Tier)),
			fmt.Sprintf("%d", e.Impressions),
			fmt.Sprintf("%d", e.Clicks),
			fmt.Sprintf("%.1f", e.Position),
			e.ReportID,
		})
	}
	table.Render()
}

func windowLabels(windows []int) string {
	labels := make([]string, len(windows))
	for i, w := range windows {
		labels[i] = domain.WindowLabel(w)
	}
	return strings.Join(labels, ", ")
}
