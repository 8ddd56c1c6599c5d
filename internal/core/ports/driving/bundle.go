// Package driving provides interfaces for use-case entry points (primary/inbound ports).
package driving

import (
	"context"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// BundleService groups requests into temporal sessions and analyses
// inter-request gap structure.
type BundleService interface {
	// Bundle partitions requests by provider and groups each partition
	// with the given gap threshold. No refinement is applied.
	Bundle(ctx context.Context, requests []domain.Request, windowMS int64) ([]domain.Session, error)

	// DeltaStats computes per-provider inter-request gap statistics.
	DeltaStats(ctx context.Context, requests []domain.Request) (map[domain.Provider]domain.DeltaStats, error)

	// CandidateWindows derives candidate gap thresholds from the gap
	// distribution at the given percentiles (e.g. 75, 90, 95, 99).
	CandidateWindows(ctx context.Context, requests []domain.Request, percentiles []float64) ([]int64, error)
}
