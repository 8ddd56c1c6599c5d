package driving

import (
	"context"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// OptimizeService runs the full window-optimization pipeline: read the
// request snapshot, evaluate every candidate window across temporal
// folds, refine, score, persist the winning window's sessions and the
// report, and return the report.
type OptimizeService interface {
	Run(ctx context.Context, cfg domain.EngineConfig) (*domain.OptScoreReport, error)
}
