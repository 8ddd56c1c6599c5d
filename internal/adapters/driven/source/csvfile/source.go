// Package csvfile provides a request source over exported CSV log
// files in the normalized column layout.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
	"github.com/custodia-labs/fanout-cli/internal/logger"
)

// Ensure Source implements the interface.
var _ driven.RequestSource = (*Source)(nil)

// Source reads normalized requests from a CSV export.
//
// The file must have a header row. Recognised columns: id, timestamp,
// client_ip, method, host, path, query_string, status_code, user_agent,
// provider, bot_category. Unknown columns are ignored. When provider or
// bot_category are absent they are derived from the user agent.
type Source struct {
	requests []domain.Request
}

// New loads the CSV file into memory.
func New(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	if _, ok := columns["timestamp"]; !ok {
		return nil, fmt.Errorf("csv is missing the timestamp column")
	}

	var requests []domain.Request
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line+1, err)
		}
		line++

		req, err := parseRecord(columns, record, line)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	logger.Debug("Loaded %d requests from %s", len(requests), path)
	return &Source{requests: requests}, nil
}

// parseRecord maps one CSV record to a request.
func parseRecord(columns map[string]int, record []string, line int) (domain.Request, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	ts, err := parseTimestamp(field("timestamp"))
	if err != nil {
		return domain.Request{}, fmt.Errorf("csv line %d: %w", line, err)
	}

	req := domain.Request{
		ID:          field("id"),
		Timestamp:   ts,
		ClientIP:    field("client_ip"),
		Method:      field("method"),
		Host:        field("host"),
		Path:        field("path"),
		QueryString: field("query_string"),
		UserAgent:   field("user_agent"),
		Provider:    domain.Provider(field("provider")),
		Category:    domain.BotCategory(field("bot_category")),
	}
	if code := field("status_code"); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return domain.Request{}, fmt.Errorf("csv line %d: bad status code %q", line, code)
		}
		req.StatusCode = n
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("row-%d", line)
	}
	if req.Provider == "" || req.Category == "" {
		provider, category := domain.ClassifyUserAgent(req.UserAgent)
		if req.Provider == "" {
			req.Provider = provider
		}
		if req.Category == "" {
			req.Category = category
		}
	}

	return req, nil
}

// parseTimestamp accepts RFC 3339 (with or without sub-seconds) and
// unix milliseconds.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// Count returns the number of loaded requests.
func (s *Source) Count(_ context.Context) (int, error) {
	return len(s.requests), nil
}

// Fetch returns the requested page.
func (s *Source) Fetch(_ context.Context, offset, limit int) ([]domain.Request, error) {
	if offset >= len(s.requests) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.requests) {
		end = len(s.requests)
	}
	page := make([]domain.Request, end-offset)
	copy(page, s.requests[offset:end])
	return page, nil
}

// Close is a no-op; the file is fully read at construction.
func (s *Source) Close() error {
	return nil
}
