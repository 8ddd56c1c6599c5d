package domain

import (
	"fmt"
	"sort"
)

// EmbeddingBackend selects how request URLs are vectorized.
type EmbeddingBackend string

// Available embedding backends.
const (
	// BackendTFIDF is the default corpus-local TF-IDF vectorizer.
	BackendTFIDF EmbeddingBackend = "tfidf"

	// BackendTransformer uses a dense embedding model served over HTTP.
	BackendTransformer EmbeddingBackend = "transformer"
)

// IsValid returns true if the backend is recognised.
func (b EmbeddingBackend) IsValid() bool {
	switch b {
	case BackendTFIDF, BackendTransformer:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (b EmbeddingBackend) String() string {
	return string(b)
}

// OptScoreWeights are the six component weights of the composite score:
//
//	OptScore = α·MIBCS + β·Silhouette + γ·BPS − δ·SingletonRate − ε·GiantRate − ζ·ThematicVariance
//
// The weights need not sum to 1.
type OptScoreWeights struct {
	Alpha   float64 // MIBCS
	Beta    float64 // Silhouette
	Gamma   float64 // Bundle purity
	Delta   float64 // Singleton rate penalty
	Epsilon float64 // Giant rate penalty
	Zeta    float64 // Thematic variance penalty
}

// DefaultWeights returns the validated production weights.
func DefaultWeights() OptScoreWeights {
	return OptScoreWeights{
		Alpha:   0.30,
		Beta:    0.25,
		Gamma:   0.25,
		Delta:   0.10,
		Epsilon: 0.05,
		Zeta:    0.05,
	}
}

// MinSupportSessions is the minimum number of sessions a candidate
// window must produce to take part in selection, and the minimum number
// of requests a provider needs for per-provider metrics.
const MinSupportSessions = 10

// PurityShare is the member share the dominant URL prefix must reach
// for a session to count as pure in BPS.
const PurityShare = 0.60

// PurityPrefixSegments is how many leading path segments form the
// URL prefix used by BPS.
const PurityPrefixSegments = 2

// EngineConfig is the immutable configuration for an optimization run.
// Construct with DefaultEngineConfig and override fields before use;
// the optimizer never mutates it.
type EngineConfig struct {
	// CandidateWindowsMS is the ordered set of gap thresholds to sweep.
	CandidateWindowsMS []int64

	// Weights are the OptScore component weights.
	Weights OptScoreWeights

	// GiantThreshold is the member count above which a session is giant.
	GiantThreshold int

	// SingletonSize is the member count at which a session is a singleton.
	SingletonSize int

	// CoherenceFloor: sessions with MIBCS below it are refinement candidates.
	CoherenceFloor float64

	// SimilarityThreshold is the minimum cosine for a refinement graph edge.
	SimilarityThreshold float64

	// MinBundleSize is the smallest session the refiner will consider.
	MinBundleSize int

	// MinSubBundleSize is the smallest component that survives a split.
	MinSubBundleSize int

	// MinMIBCSImprovement is the coherence gain a split must achieve.
	MinMIBCSImprovement float64

	// RefinementEnabled toggles the semantic refiner.
	RefinementEnabled bool

	// IPRefinementEnabled toggles IP-diversity input to the refiner.
	// Off by default: intra-bundle IP diversity correlates weakly
	// (r ≈ 0.023) with collision status.
	IPRefinementEnabled bool

	// EmbeddingBackend selects the vectorizer.
	EmbeddingBackend EmbeddingBackend

	// MaxIntraBundlePairs caps the rows sampled when computing MIBCS
	// for a giant session. Members beyond the cap are uniformly
	// sampled with the run seed.
	MaxIntraBundlePairs int

	// Folds is the temporal cross-validation fold count.
	Folds int

	// SilhouetteSampleCap bounds the requests used for the silhouette.
	SilhouetteSampleCap int

	// Seed drives every sampler (silhouette, giant-bundle MIBCS) so runs
	// are bit-identical for identical inputs. Folds are contiguous time
	// slices and use no sampler.
	Seed int64

	// ExcludeProviders are provider labels ignored during optimization.
	ExcludeProviders []Provider

	// FilterCategory keeps only requests of this category; empty keeps all.
	FilterCategory BotCategory

	// PresortEnabled sorts each provider partition by timestamp before
	// bundling. When disabled, out-of-order input is a fatal error.
	PresortEnabled bool
}

// DefaultEngineConfig returns the validated default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CandidateWindowsMS:  []int64{50, 100, 500, 1000, 3000, 5000},
		Weights:             DefaultWeights(),
		GiantThreshold:      50,
		SingletonSize:       1,
		CoherenceFloor:      0.5,
		SimilarityThreshold: 0.5,
		MinBundleSize:       3,
		MinSubBundleSize:    2,
		MinMIBCSImprovement: 0.05,
		RefinementEnabled:   true,
		IPRefinementEnabled: false,
		EmbeddingBackend:    BackendTFIDF,
		MaxIntraBundlePairs: 200,
		Folds:               5,
		SilhouetteSampleCap: 5000,
		Seed:                1,
		ExcludeProviders:    []Provider{ProviderMicrosoft},
		FilterCategory:      CategoryUserRequest,
		PresortEnabled:      true,
	}
}

// Validate checks the configuration. Violations wrap ErrConfig and
// abort the run immediately.
func (c EngineConfig) Validate() error {
	if len(c.CandidateWindowsMS) == 0 {
		return fmt.Errorf("%w: empty candidate window set", ErrConfig)
	}
	for _, w := range c.CandidateWindowsMS {
		if w <= 0 {
			return fmt.Errorf("%w: candidate window %d ms is not positive", ErrConfig, w)
		}
	}
	for _, weight := range []struct {
		name  string
		value float64
	}{
		{"alpha", c.Weights.Alpha},
		{"beta", c.Weights.Beta},
		{"gamma", c.Weights.Gamma},
		{"delta", c.Weights.Delta},
		{"epsilon", c.Weights.Epsilon},
		{"zeta", c.Weights.Zeta},
	} {
		if weight.value < 0 {
			return fmt.Errorf("%w: weight %s is negative", ErrConfig, weight.name)
		}
	}
	if c.GiantThreshold < 1 {
		return fmt.Errorf("%w: giant threshold must be at least 1", ErrConfig)
	}
	if c.CoherenceFloor < -1 || c.CoherenceFloor > 1 {
		return fmt.Errorf("%w: coherence floor outside [-1, 1]", ErrConfig)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold outside [-1, 1]", ErrConfig)
	}
	if c.MinBundleSize < 2 {
		return fmt.Errorf("%w: min bundle size must be at least 2", ErrConfig)
	}
	if c.MinSubBundleSize < 1 {
		return fmt.Errorf("%w: min sub-bundle size must be at least 1", ErrConfig)
	}
	if c.MinMIBCSImprovement < 0 {
		return fmt.Errorf("%w: min MIBCS improvement is negative", ErrConfig)
	}
	if !c.EmbeddingBackend.IsValid() {
		return fmt.Errorf("%w: unknown embedding backend %q", ErrConfig, c.EmbeddingBackend)
	}
	if c.MaxIntraBundlePairs < 2 {
		return fmt.Errorf("%w: max intra-bundle pairs must be at least 2", ErrConfig)
	}
	if c.Folds < 1 {
		return fmt.Errorf("%w: fold count must be at least 1", ErrConfig)
	}
	if c.SilhouetteSampleCap < 2 {
		return fmt.Errorf("%w: silhouette sample cap must be at least 2", ErrConfig)
	}
	return nil
}

// SortedWindows returns the candidate windows in ascending order
// without mutating the config.
func (c EngineConfig) SortedWindows() []int64 {
	windows := make([]int64, len(c.CandidateWindowsMS))
	copy(windows, c.CandidateWindowsMS)
	sort.Slice(windows, func(i, j int) bool { return windows[i] < windows[j] })
	return windows
}

// ProviderExcluded reports whether a provider is in the exclusion set.
func (c EngineConfig) ProviderExcluded(p Provider) bool {
	for _, excluded := range c.ExcludeProviders {
		if excluded == p {
			return true
		}
	}
	return false
}
