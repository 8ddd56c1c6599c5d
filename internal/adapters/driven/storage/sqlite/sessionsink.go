package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure sessionSink implements the interface.
var _ driven.SessionSink = (*sessionSink)(nil)

// sessionSink writes sessions and reports into the store.
type sessionSink struct {
	store *Store
}

// WriteSessions stores a batch of sessions inside one transaction, so
// the batch lands all-or-nothing.
func (s *sessionSink) WriteSessions(ctx context.Context, sessions []domain.Session) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO query_fanout_sessions (
			session_id, provider, start_ts, end_ts, duration_ms,
			request_count, request_ids, window_used_ms, refinement_origin,
			mibcs, min_similarity, max_similarity, confidence_level,
			session_name, flags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}
	defer stmt.Close()

	for _, session := range sessions {
		requestIDs, err := json.Marshal(session.RequestIDs)
		if err != nil {
			return fmt.Errorf("marshal request ids for %s: %w", session.ID, err)
		}

		flags := make([]string, len(session.Flags))
		for i, f := range session.Flags {
			flags[i] = string(f)
		}

		if _, err := stmt.ExecContext(ctx,
			session.ID,
			session.Provider.String(),
			session.StartTS.UnixMilli(),
			session.EndTS.UnixMilli(),
			session.DurationMS(),
			session.Size(),
			string(requestIDs),
			session.WindowUsed,
			session.RefinementOrigin,
			nullableFloat(session.MIBCS),
			nullableFloat(session.MinSimilarity),
			nullableFloat(session.MaxSimilarity),
			session.ConfidenceLevel,
			session.Name,
			strings.Join(flags, ","),
		); err != nil {
			return fmt.Errorf("insert session %s: %w", session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sessions: %w", err)
	}
	return nil
}

// WriteReport stores the final optimization report as JSON.
func (s *sessionSink) WriteReport(ctx context.Context, report *domain.OptScoreReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if _, err := s.store.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO opt_reports (run_id, generated_at, report_json)
		VALUES (?, ?, ?)
	`, report.RunID, report.GeneratedAt, string(data)); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Close is a no-op; the owning Store manages the connection.
func (s *sessionSink) Close() error {
	return nil
}

// nullableFloat converts an optional metric to a driver-friendly value.
func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
