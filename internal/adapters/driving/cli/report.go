package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show a stored optimization report",
	Long:  `Prints the most recent optimization report, or the one with the given run id.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	var report *domain.OptScoreReport
	if len(args) == 1 {
		report, err = store.GetReport(ctx, args[0])
	} else {
		report, err = store.LatestReport(ctx)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			cmd.Println("No report stored yet. Run `fanout optimize` first.")
			return nil
		}
		return fmt.Errorf("load report: %w", err)
	}

	return printReport(cmd, report, reportFormat)
}
