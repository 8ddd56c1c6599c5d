// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import (
	"context"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// RequestSource yields normalized request records.
// Records may arrive in arbitrary order; the engine partitions and
// sorts internally. The stream is finite and end-of-stream is explicit:
// Fetch returns an empty page once the offset passes the end.
//
// Implementations include the SQLite request table and exported CSV
// files.
type RequestSource interface {
	// Count returns the total number of records available.
	Count(ctx context.Context) (int, error)

	// Fetch returns up to limit records starting at offset.
	// An empty (or short) page signals end-of-stream. Bounded pages
	// keep memory-limited runs possible.
	Fetch(ctx context.Context, offset, limit int) ([]domain.Request, error)

	// Close releases resources.
	Close() error
}
