package driven

import (
	"context"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// SessionSink persists sessions and the final optimization report.
//
// Batch writes are transactional: either every session in the batch is
// stored or none is. Session ids within a run are duplicate-free.
type SessionSink interface {
	// WriteSessions stores a batch of sessions, all-or-nothing.
	WriteSessions(ctx context.Context, sessions []domain.Session) error

	// WriteReport stores the final optimization report.
	WriteReport(ctx context.Context, report *domain.OptScoreReport) error

	// Close releases resources.
	Close() error
}
