package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// LatestReport returns the most recently generated optimization report,
// or ErrNotFound when none has been stored.
func (s *Store) LatestReport(ctx context.Context) (*domain.OptScoreReport, error) {
	var data string
	row := s.db.QueryRowContext(ctx, `
		SELECT report_json FROM opt_reports
		ORDER BY generated_at DESC, run_id DESC
		LIMIT 1
	`)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query latest report: %w", err)
	}

	var report domain.OptScoreReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}

// GetReport returns a stored report by run id.
func (s *Store) GetReport(ctx context.Context, runID string) (*domain.OptScoreReport, error) {
	var data string
	row := s.db.QueryRowContext(ctx,
		"SELECT report_json FROM opt_reports WHERE run_id = ?", runID)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query report %s: %w", runID, err)
	}

	var report domain.OptScoreReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}
