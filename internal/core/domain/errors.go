package domain

import "errors"

// Domain errors represent engine failures.
// These are distinct from infrastructure errors.
var (
	// ErrConfig indicates invalid engine configuration: negative
	// weights, thresholds out of range, or an empty candidate set.
	// Always fatal.
	ErrConfig = errors.New("invalid configuration")

	// ErrInputOrder indicates an out-of-order timestamp within a
	// provider partition while pre-sorting is disabled. Fatal for the
	// evaluation; the wrapping message names the provider and row.
	ErrInputOrder = errors.New("out-of-order input")

	// ErrEmbeddingDegenerate indicates the TF-IDF vocabulary came out
	// empty (no usable tokens across the corpus). The affected
	// evaluation is skipped with a recorded reason.
	ErrEmbeddingDegenerate = errors.New("degenerate embedding vocabulary")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// WarningKind classifies a non-fatal condition recorded on the report.
type WarningKind string

// Warning kinds.
const (
	// WarnEmptyPartition: a provider has fewer than the support floor of
	// requests after filtering; excluded from per-provider metrics.
	WarnEmptyPartition WarningKind = "empty_partition"

	// WarnLowSupport: a candidate window yields fewer sessions than the
	// support floor; reported but excluded from selection.
	WarnLowSupport WarningKind = "low_support"

	// WarnEmbeddingDegenerate: an evaluation was skipped because no
	// usable tokens existed.
	WarnEmbeddingDegenerate WarningKind = "embedding_degenerate"

	// WarnNoRecommendation: every candidate window failed the support
	// floor, so the run recommends nothing.
	WarnNoRecommendation WarningKind = "no_recommendation"
)

// Warning records a non-fatal condition encountered during a run.
type Warning struct {
	// Kind classifies the warning.
	Kind WarningKind

	// Provider is set when the warning concerns one provider.
	Provider Provider

	// WindowMS is set when the warning concerns one candidate window.
	WindowMS int64

	// Message is the human-readable detail.
	Message string
}
