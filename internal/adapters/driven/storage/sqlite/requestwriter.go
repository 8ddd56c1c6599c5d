package sqlite

import (
	"context"
	"fmt"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// InsertRequests stores a batch of normalized requests inside one
// transaction. Existing ids are replaced, so re-importing a file is
// idempotent.
func (s *Store) InsertRequests(ctx context.Context, requests []domain.Request) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bot_requests (
			id, request_ts, client_ip, method, host, path, query_string,
			status_code, user_agent, provider, bot_category,
			response_bytes, request_bytes, response_time_ms,
			cache_status, edge_location, referer, protocol, ssl_protocol
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare request insert: %w", err)
	}
	defer stmt.Close()

	for _, req := range requests {
		if _, err := stmt.ExecContext(ctx,
			req.ID,
			req.Timestamp.UnixMilli(),
			req.ClientIP,
			req.Method,
			req.Host,
			req.Path,
			req.QueryString,
			req.StatusCode,
			req.UserAgent,
			req.Provider.String(),
			string(req.Category),
			nullableInt(req.ResponseBytes),
			nullableInt(req.RequestBytes),
			nullableFloat(req.ResponseTimeMS),
			req.CacheStatus,
			req.EdgeLocation,
			req.Referer,
			req.Protocol,
			req.SSLProtocol,
		); err != nil {
			return fmt.Errorf("insert request %s: %w", req.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit requests: %w", err)
	}
	return nil
}

// nullableInt converts an optional count to a driver-friendly value.
func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
