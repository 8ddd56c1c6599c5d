// Package cli provides the cobra command surface of the fanout CLI.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	configfile "github.com/custodia-labs/fanout-cli/internal/adapters/driven/config/file"
	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/embedding/dense"
	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/embedding/tfidf"
	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/source/csvfile"
	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
	"github.com/custodia-labs/fanout-cli/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Persistent flags.
var (
	flagVerbose bool
	flagConfig  string
	flagDB      string
	flagCSV     string
)

var rootCmd = &cobra.Command{
	Use:   "fanout",
	Short: "Query fan-out session detection and window optimization",
	Long: `fanout groups LLM bot requests into query fan-out sessions and
searches for the gap threshold that maximizes session quality (OptScore).

Requests are read from a SQLite request table (--db) or a normalized
CSV export (--csv); sessions and reports are written back to SQLite.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.fanout/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default ~/.fanout/data/fanout.db)")
	rootCmd.PersistentFlags().StringVar(&flagCSV, "csv", "", "read requests from a CSV export instead of the database")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the engine configuration from the TOML store.
func loadConfig() (domain.EngineConfig, error) {
	store, err := configfile.NewConfigStore(flagConfig)
	if err != nil {
		return domain.EngineConfig{}, fmt.Errorf("open config store: %w", err)
	}
	cfg, err := store.Load()
	if err != nil {
		return domain.EngineConfig{}, fmt.Errorf("load config: %w", err)
	}
	logger.Debug("Config loaded from %s", store.Path())
	return cfg, nil
}

// openStore opens the SQLite store used for sessions and, without
// --csv, as the request source.
func openStore() (*sqlite.Store, error) {
	store, err := sqlite.NewStore(flagDB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("Database: %s", store.Path())
	return store, nil
}

// openSource picks the request source: CSV when --csv is set, the
// database otherwise.
func openSource(store *sqlite.Store) (driven.RequestSource, error) {
	if flagCSV != "" {
		source, err := csvfile.New(flagCSV)
		if err != nil {
			return nil, fmt.Errorf("open csv source: %w", err)
		}
		return source, nil
	}
	return store.RequestSource(), nil
}

// newEmbedder builds the embedding backend the config selects.
func newEmbedder(cfg domain.EngineConfig) driven.Embedder {
	if cfg.EmbeddingBackend == domain.BackendTransformer {
		return dense.New(dense.Config{})
	}
	return tfidf.New()
}
