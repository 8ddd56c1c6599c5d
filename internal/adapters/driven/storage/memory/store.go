// Package memory provides in-memory request source and session sink
// implementations for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure the adapters implement the interfaces.
var (
	_ driven.RequestSource = (*Source)(nil)
	_ driven.SessionSink   = (*Sink)(nil)
)

// Source serves a fixed request slice.
type Source struct {
	requests []domain.Request
}

// NewSource creates a source over the given requests.
func NewSource(requests []domain.Request) *Source {
	return &Source{requests: requests}
}

// Count returns the number of requests.
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

// Close is a no-op.
func (s *Source) Close() error {
	return nil
}

// Sink collects written sessions and reports in memory.
type Sink struct {
	mu       sync.Mutex
	sessions []domain.Session
	reports  []*domain.OptScoreReport
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// WriteSessions appends the batch.
func (s *Sink) WriteSessions(_ context.Context, sessions []domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sessions...)
	return nil
}

// WriteReport appends the report.
func (s *Sink) WriteReport(_ context.Context, report *domain.OptScoreReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Sessions returns the sessions written so far.
func (s *Sink) Sessions() []domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Reports returns the reports written so far.
func (s *Sink) Reports() []*domain.OptScoreReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.OptScoreReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// Close is a no-op.
func (s *Sink) Close() error {
	return nil
}
