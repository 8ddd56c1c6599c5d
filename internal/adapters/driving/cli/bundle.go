package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
	"github.com/custodia-labs/fanout-cli/internal/core/services"
)

var (
	bundleWindow int64
	bundleStats  bool
	bundleWrite  bool
	bundleLimit  int
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Group requests into sessions at a fixed window",
	Long: `Runs the temporal bundler once at the given gap threshold and prints
the resulting sessions. With --stats, prints per-provider inter-request
gap statistics and percentile-derived candidate windows instead.`,
	RunE: runBundle,
}

func init() {
	bundleCmd.Flags().Int64VarP(&bundleWindow, "window", "w", 100, "gap threshold in milliseconds")
	bundleCmd.Flags().BoolVar(&bundleStats, "stats", false, "print gap statistics instead of sessions")
	bundleCmd.Flags().BoolVar(&bundleWrite, "write", false, "persist the sessions to the database")
	bundleCmd.Flags().IntVarP(&bundleLimit, "limit", "n", 20, "maximum sessions to print")
	rootCmd.AddCommand(bundleCmd)
}

func runBundle(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := openSource(store)
	if err != nil {
		return err
	}
	defer source.Close()

	ctx := context.Background()
	requests, err := readAllRequests(ctx, source, cfg)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		cmd.Println("No requests to bundle.")
		return nil
	}

	bundler := services.NewBundleService(cfg)

	if bundleStats {
		return printDeltaStats(ctx, cmd, bundler, requests)
	}

	sessions, err := bundler.Bundle(ctx, requests, bundleWindow)
	if err != nil {
		return fmt.Errorf("bundle failed: %w", err)
	}

	if bundleWrite {
		if err := store.SessionSink().WriteSessions(ctx, sessions); err != nil {
			return fmt.Errorf("write sessions: %w", err)
		}
	}

	printSessions(cmd, sessions, bundleLimit)
	return nil
}

// printDeltaStats renders the per-provider gap distribution and the
// percentile-derived candidate windows.
func printDeltaStats(
	ctx context.Context, cmd *cobra.Command,
	bundler *services.BundleService, requests []domain.Request,
) error {
	stats, err := bundler.DeltaStats(ctx, requests)
	if err != nil {
		return fmt.Errorf("delta stats failed: %w", err)
	}

	providers := make([]domain.Provider, 0, len(stats))
	for provider := range stats {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })

	cmd.Println("Inter-request gap statistics (ms):")
	cmd.Println()
	for _, provider := range providers {
		s := stats[provider]
		cmd.Printf("  %s (%d gaps)\n", provider, s.Count)
		if s.Count == 0 {
			continue
		}
		cmd.Printf("    mean %.1f  median %.1f  std %.1f  min %.1f  max %.1f\n",
			s.MeanMS, s.MedianMS, s.StdMS, s.MinMS, s.MaxMS)
		cmd.Printf("    p75 %.1f  p90 %.1f  p95 %.1f  p99 %.1f\n",
			s.Percentiles["p75"], s.Percentiles["p90"], s.Percentiles["p95"], s.Percentiles["p99"])
	}

	candidates, err := bundler.CandidateWindows(ctx, requests, []float64{75, 90, 95, 99})
	if err != nil {
		return fmt.Errorf("candidate windows failed: %w", err)
	}
	cmd.Println()
	cmd.Printf("Candidate windows from gap percentiles: %v ms\n", candidates)
	return nil
}

// printSessions renders a session summary and the first few rows.
func printSessions(cmd *cobra.Command, sessions []domain.Session, limit int) {
	cmd.Printf("%d sessions at window %d ms\n\n", len(sessions), bundleWindow)

	shown := sessions
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, s := range shown {
		cmd.Printf("  %-40s %-12s size=%-4d %dms\n",
			s.ID, s.Provider, s.Size(), s.DurationMS())
	}
	if len(sessions) > limit {
		cmd.Printf("  ... and %d more\n", len(sessions)-limit)
	}
}

// readAllRequests pages the source and applies the config's category
// and provider filters, mirroring what the optimizer consumes.
func readAllRequests(
	ctx context.Context, source driven.RequestSource, cfg domain.EngineConfig,
) ([]domain.Request, error) {
	const pageSize = 5000

	var all []domain.Request
	offset := 0
	for {
		page, err := source.Fetch(ctx, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch requests: %w", err)
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) < pageSize {
			break
		}
	}

	filtered := make([]domain.Request, 0, len(all))
	for _, req := range all {
		if cfg.FilterCategory != "" && req.Category != cfg.FilterCategory {
			continue
		}
		if cfg.ProviderExcluded(req.Provider) {
			continue
		}
		filtered = append(filtered, req)
	}
	return filtered, nil
}
