package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/source/csvfile"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV export into the request table",
	Long: `Loads a normalized CSV export (--csv) into the SQLite request table so
later bundle and optimize runs can read it without the file. Re-importing
the same file is idempotent.`,
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	if flagCSV == "" {
		return errors.New("import requires --csv")
	}

	source, err := csvfile.New(flagCSV)
	if err != nil {
		return err
	}
	defer source.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	count, err := source.Count(ctx)
	if err != nil {
		return fmt.Errorf("count requests: %w", err)
	}
	requests, err := source.Fetch(ctx, 0, count)
	if err != nil {
		return fmt.Errorf("read requests: %w", err)
	}

	if err := store.InsertRequests(ctx, requests); err != nil {
		return fmt.Errorf("import requests: %w", err)
	}

	cmd.Printf("Imported %d requests into %s\n", len(requests), store.Path())
	return nil
}
