package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure requestSource implements the interface.
var _ driven.RequestSource = (*requestSource)(nil)

// requestSource pages normalized requests out of the bot_requests table.
type requestSource struct {
	store *Store
}

// Count returns the total number of stored requests.
func (r *requestSource) Count(ctx context.Context) (int, error) {
	var count int
	row := r.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bot_requests")
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return count, nil
}

// Fetch returns up to limit requests starting at offset, ordered by
// timestamp then id so pagination is stable.
func (r *requestSource) Fetch(ctx context.Context, offset, limit int) ([]domain.Request, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT id, request_ts, client_ip, method, host, path, query_string,
		       status_code, user_agent, provider, bot_category,
		       response_bytes, request_bytes, response_time_ms,
		       cache_status, edge_location, referer, protocol, ssl_protocol
		FROM bot_requests
		ORDER BY request_ts, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		var (
			req            domain.Request
			ts             int64
			provider       string
			category       string
			responseBytes  sql.NullInt64
			requestBytes   sql.NullInt64
			responseTimeMS sql.NullFloat64
		)
		if err := rows.Scan(
			&req.ID, &ts, &req.ClientIP, &req.Method, &req.Host, &req.Path,
			&req.QueryString, &req.StatusCode, &req.UserAgent, &provider,
			&category, &responseBytes, &requestBytes, &responseTimeMS,
			&req.CacheStatus, &req.EdgeLocation, &req.Referer,
			&req.Protocol, &req.SSLProtocol,
		); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}

		req.Timestamp = time.UnixMilli(ts).UTC()
		req.Provider = domain.Provider(provider)
		req.Category = domain.BotCategory(category)
		if responseBytes.Valid {
			v := responseBytes.Int64
			req.ResponseBytes = &v
		}
		if requestBytes.Valid {
			v := requestBytes.Int64
			req.RequestBytes = &v
		}
		if responseTimeMS.Valid {
			v := responseTimeMS.Float64
			req.ResponseTimeMS = &v
		}

		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}

	return requests, nil
}

// Close is a no-op; the owning Store manages the connection.
func (r *requestSource) Close() error {
	return nil
}
