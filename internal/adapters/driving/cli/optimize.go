package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/services"
	"github.com/custodia-labs/fanout-cli/internal/logger"
)

var (
	optimizeWindows  []int64
	optimizeFolds    int
	optimizeSeed     int64
	optimizeBackend  string
	optimizeNoRefine bool
	optimizeFormat   string
	optimizeWatch    bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Sweep candidate windows and recommend a gap threshold",
	Long: `Evaluates every candidate gap threshold over the request snapshot,
cross-validates across temporal folds, and prints the ranked window
table with a confidence-rated recommendation. The winning window's
sessions and the report are persisted to the database.`,
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().Int64SliceVarP(&optimizeWindows, "windows", "w", nil, "candidate windows in ms (overrides config)")
	optimizeCmd.Flags().IntVar(&optimizeFolds, "folds", 0, "cross-validation fold count (overrides config)")
	optimizeCmd.Flags().Int64Var(&optimizeSeed, "seed", 0, "sampler seed (overrides config)")
	optimizeCmd.Flags().StringVar(&optimizeBackend, "backend", "", "embedding backend: tfidf or transformer")
	optimizeCmd.Flags().BoolVar(&optimizeNoRefine, "no-refine", false, "disable semantic session refinement")
	optimizeCmd.Flags().StringVarP(&optimizeFormat, "format", "f", "table", "output format: table, json or yaml")
	optimizeCmd.Flags().BoolVar(&optimizeWatch, "watch", false, "re-run when the --csv input file changes")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyOptimizeOverrides(&cfg)

	if optimizeWatch && flagCSV == "" {
		return errors.New("--watch requires --csv")
	}

	if err := runOptimizeOnce(cmd, cfg); err != nil {
		return err
	}
	if !optimizeWatch {
		return nil
	}
	return watchAndRerun(cmd, cfg)
}

// runOptimizeOnce wires the adapters, runs the pipeline, and prints
// the report.
func runOptimizeOnce(cmd *cobra.Command, cfg domain.EngineConfig) error {
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

	svc := services.NewOptimizeService(source, store.SessionSink(), newEmbedder(cfg))

	report, err := svc.Run(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	return printReport(cmd, report, optimizeFormat)
}

// watchAndRerun re-runs the optimization whenever the CSV input changes.
func watchAndRerun(cmd *cobra.Command, cfg domain.EngineConfig) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(flagCSV); err != nil {
		return fmt.Errorf("watch %s: %w", flagCSV, err)
	}
	cmd.Printf("Watching %s for changes (ctrl-c to stop)\n", flagCSV)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			logger.Info("Input changed (%s), re-running optimization", event.Op)
			if err := runOptimizeOnce(cmd, cfg); err != nil {
				logger.Warn("Re-run failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)
		}
	}
}

// applyOptimizeOverrides folds command flags into the config value.
func applyOptimizeOverrides(cfg *domain.EngineConfig) {
	if len(optimizeWindows) > 0 {
		cfg.CandidateWindowsMS = optimizeWindows
	}
	if optimizeFolds > 0 {
		cfg.Folds = optimizeFolds
	}
	if optimizeSeed != 0 {
		cfg.Seed = optimizeSeed
	}
	if optimizeBackend != "" {
		cfg.EmbeddingBackend = domain.EmbeddingBackend(optimizeBackend)
	}
	if optimizeNoRefine {
		cfg.RefinementEnabled = false
	}
}
