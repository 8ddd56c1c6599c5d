package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// Report rendering styles.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bestStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// printReport renders a report in the requested format.
func printReport(cmd *cobra.Command, report *domain.OptScoreReport, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		cmd.Print(string(data))
		return nil
	case "table":
		cmd.Println(renderReportTable(report))
		return nil
	default:
		return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
	}
}

// renderReportTable builds the human-readable report.
func renderReportTable(report *domain.OptScoreReport) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Query Fan-Out Window Optimization"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("run %s · %d requests (%d after filtering) · %d folds · seed %d",
		report.RunID, report.TotalRequests, report.FilteredRequests, report.Folds, report.Seed)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %-11s %-9s %-8s %-8s %-8s %-7s %-7s %-10s %s",
		"rank", "window(ms)", "optscore", "mibcs", "silh", "bps", "sr", "gr", "folds μ±σ", "sessions")))
	b.WriteString("\n")

	for _, w := range report.Windows {
		line := fmt.Sprintf("%-6d %-11d %-9.4f %-8.4f %-8.4f %-8.4f %-7.2f %-7.2f %-6.3f±%-5.3f %d",
			w.Rank, w.WindowMS, w.Metrics.OptScore, w.Metrics.MIBCS, w.Metrics.Silhouette,
			w.Metrics.BPS, w.Metrics.SingletonRate, w.Metrics.GiantRate,
			w.Folds.Mean, w.Folds.Std, w.Metrics.SessionCount)

		switch {
		case !w.Supported:
			line = dimStyle.Render(line + "  (" + w.SkipReason + ")")
		case report.Recommendation != nil && w.WindowMS == report.Recommendation.WindowMS:
			line = bestStyle.Render(line + "  *")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if report.Recommendation != nil {
		b.WriteString(bestStyle.Render(fmt.Sprintf("Recommended window: %d ms (OptScore %.4f, %s confidence)",
			report.Recommendation.WindowMS, report.Recommendation.OptScore,
			report.Recommendation.Confidence)))
		b.WriteString("\n")
	} else {
		b.WriteString(warningStyle.Render("No recommendation: no candidate window has sufficient support."))
		b.WriteString("\n")
	}

	b.WriteString(renderProviderBreakdown(report))

	for _, warning := range report.Warnings {
		b.WriteString(warningStyle.Render("warning: " + warning.Message))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderProviderBreakdown prints per-provider metrics for the
// recommended window, when present.
func renderProviderBreakdown(report *domain.OptScoreReport) string {
	if report.Recommendation == nil {
		return ""
	}

	var best *domain.WindowResult
	for i := range report.Windows {
		if report.Windows[i].WindowMS == report.Recommendation.WindowMS {
			best = &report.Windows[i]
			break
		}
	}
	if best == nil || len(best.PerProvider) == 0 {
		return ""
	}

	providers := make([]domain.Provider, 0, len(best.PerProvider))
	for provider := range best.PerProvider {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Per-provider breakdown"))
	b.WriteString("\n")
	for _, provider := range providers {
		m := best.PerProvider[provider]
		b.WriteString(fmt.Sprintf("  %-12s optscore %.4f  mibcs %.4f  sessions %d  mean size %.1f\n",
			provider, m.OptScore, m.MIBCS, m.SessionCount, m.MeanBundleSize))
	}
	return b.String()
}
