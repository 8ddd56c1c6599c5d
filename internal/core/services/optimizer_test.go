package services

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/embedding/tfidf"
	"github.com/custodia-labs/fanout-cli/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// fanoutCorpus builds a synthetic corpus with known structure:
// clusters of two 4-request fan-out bursts. Within a burst the gaps
// are 9, 9 and 60 ms and every request shares one unique theme; the
// two bursts of a cluster are ~220 ms apart with different themes;
// clusters are 10 s apart.
//
// The right window is therefore 100 ms: 50 ms cuts each burst in two,
// while 500+ ms merges the two themes of a cluster.
func fanoutCorpus(provider domain.Provider, clusters int) []domain.Request {
	var requests []domain.Request
	id := 0
	for c := 0; c < clusters; c++ {
		base := int64(c) * 10_000
		for b := 0; b < 2; b++ {
			start := base + int64(b)*300
			theme := fmt.Sprintf("/topic%02d/item%02d", c*2+b, c*2+b)
			for _, offset := range []int64{0, 9, 18, 78} {
				requests = append(requests, domain.Request{
					ID:        fmt.Sprintf("%s-%04d", provider, id),
					Timestamp: time.UnixMilli(start + offset).UTC(),
					Provider:  provider,
					Category:  domain.CategoryUserRequest,
					Path:      theme,
				})
				id++
			}
		}
	}
	return requests
}

func optimizerConfig() domain.EngineConfig {
	cfg := domain.DefaultEngineConfig()
	cfg.CandidateWindowsMS = []int64{50, 100, 500, 1000}
	cfg.Seed = 42
	return cfg
}

func TestOptimize_RecommendsSeparatingWindow(t *testing.T) {
	requests := fanoutCorpus(domain.ProviderOpenAI, 8)
	source := memory.NewSource(requests)
	sink := memory.NewSink()

	svc := NewOptimizeService(source, sink, tfidf.New())
	report, err := svc.Run(context.Background(), optimizerConfig())
	require.NoError(t, err)
	require.NotNil(t, report.Recommendation)

	assert.Equal(t, int64(100), report.Recommendation.WindowMS)
	assert.Contains(t, []domain.Confidence{domain.ConfidenceHigh, domain.ConfidenceMedium},
		report.Recommendation.Confidence)

	t.Run("report bookkeeping", func(t *testing.T) {
		assert.Equal(t, len(requests), report.TotalRequests)
		assert.Equal(t, len(requests), report.FilteredRequests)
		assert.Len(t, report.Windows, 4)
		assert.Equal(t, 1, report.Windows[0].Rank)
		assert.Equal(t, int64(100), report.Windows[0].WindowMS)
	})

	t.Run("ranking is ordered by optscore", func(t *testing.T) {
		for i := 1; i < len(report.Windows); i++ {
			assert.GreaterOrEqual(t,
				report.Windows[i-1].Metrics.OptScore,
				report.Windows[i].Metrics.OptScore)
		}
	})

	t.Run("fold statistics are recorded", func(t *testing.T) {
		for _, w := range report.Windows {
			assert.Len(t, w.Folds.Scores, 5)
		}
	})

	t.Run("winning sessions are persisted", func(t *testing.T) {
		sessions := sink.Sessions()
		require.NotEmpty(t, sessions)

		// Every persisted session came from the winning window, and the
		// union of members is exactly the input set.
		seen := make(map[string]int)
		for _, s := range sessions {
			assert.Equal(t, int64(100), s.WindowUsed)
			for _, id := range s.RequestIDs {
				seen[id]++
			}
		}
		assert.Len(t, seen, len(requests))
		for id, count := range seen {
			assert.Equal(t, 1, count, "request %s appears once", id)
		}

		reports := sink.Reports()
		require.Len(t, reports, 1)
		assert.Equal(t, report.RunID, reports[0].RunID)
	})
}

func TestOptimize_Deterministic(t *testing.T) {
	requests := fanoutCorpus(domain.ProviderOpenAI, 6)

	run := func() *domain.OptScoreReport {
		svc := NewOptimizeService(memory.NewSource(requests), memory.NewSink(), tfidf.New())
		report, err := svc.Run(context.Background(), optimizerConfig())
		require.NoError(t, err)
		return report
	}

	first := run()
	second := run()

	// Identical up to the run id and timestamp.
	assert.Equal(t, first.Windows, second.Windows)
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.Equal(t, first.Warnings, second.Warnings)
}

func TestOptimize_SmallProviderWarned(t *testing.T) {
	requests := fanoutCorpus(domain.ProviderOpenAI, 8)
	// Eight Anthropic requests: below the per-provider support floor.
	for i := 0; i < 8; i++ {
		requests = append(requests, domain.Request{
			ID:        fmt.Sprintf("anthropic-%d", i),
			Timestamp: time.UnixMilli(int64(i) * 2000).UTC(),
			Provider:  domain.ProviderAnthropic,
			Category:  domain.CategoryUserRequest,
			Path:      "/api/research/papers",
		})
	}

	svc := NewOptimizeService(memory.NewSource(requests), memory.NewSink(), tfidf.New())
	report, err := svc.Run(context.Background(), optimizerConfig())
	require.NoError(t, err)

	var warned bool
	for _, w := range report.Warnings {
		if w.Kind == domain.WarnEmptyPartition && w.Provider == domain.ProviderAnthropic {
			warned = true
		}
	}
	assert.True(t, warned, "expected an empty-partition warning for Anthropic")

	// And the per-provider breakdown must not include Anthropic.
	for _, w := range report.Windows {
		_, ok := w.PerProvider[domain.ProviderAnthropic]
		assert.False(t, ok)
	}
}

func TestOptimize_LowSupportExclusion(t *testing.T) {
	// One cluster yields too few sessions for every window.
	requests := fanoutCorpus(domain.ProviderOpenAI, 1)

	svc := NewOptimizeService(memory.NewSource(requests), memory.NewSink(), tfidf.New())
	report, err := svc.Run(context.Background(), optimizerConfig())
	require.NoError(t, err)

	assert.Nil(t, report.Recommendation)
	for _, w := range report.Windows {
		assert.False(t, w.Supported)
	}

	kinds := make(map[domain.WarningKind]int)
	for _, w := range report.Warnings {
		kinds[w.Kind]++
	}
	assert.NotZero(t, kinds[domain.WarnLowSupport])
	assert.Equal(t, 1, kinds[domain.WarnNoRecommendation],
		"a run without a winner must surface a no_recommendation warning")
}

func TestOptimize_ConfigErrors(t *testing.T) {
	svc := NewOptimizeService(memory.NewSource(nil), memory.NewSink(), tfidf.New())

	cfg := optimizerConfig()
	cfg.CandidateWindowsMS = nil

	_, err := svc.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestOptimize_ExcludedProviderFiltered(t *testing.T) {
	requests := fanoutCorpus(domain.ProviderOpenAI, 6)
	requests = append(requests, fanoutCorpus(domain.ProviderMicrosoft, 2)...)

	svc := NewOptimizeService(memory.NewSource(requests), memory.NewSink(), tfidf.New())
	report, err := svc.Run(context.Background(), optimizerConfig())
	require.NoError(t, err)

	assert.Equal(t, len(requests), report.TotalRequests)
	assert.Equal(t, len(requests)-16, report.FilteredRequests)
}

func TestOptimize_Cancellation(t *testing.T) {
	requests := fanoutCorpus(domain.ProviderOpenAI, 8)
	sink := memory.NewSink()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewOptimizeService(memory.NewSource(requests), sink, tfidf.New())
	_, err := svc.Run(ctx, optimizerConfig())
	require.Error(t, err)

	// Nothing partial lands in the sink.
	assert.Empty(t, sink.Sessions())
	assert.Empty(t, sink.Reports())
}

func TestFoldSlices(t *testing.T) {
	requests := reqs(domain.ProviderOpenAI, 0, 1, 2, 3, 4, 5, 6)

	folds := foldSlices(requests, 3)
	require.Len(t, folds, 3)

	var total int
	var starts []int64
	for _, fold := range folds {
		total += len(fold)
		if len(fold) > 0 {
			starts = append(starts, fold[0].UnixMilli())
		}
	}
	assert.Equal(t, len(requests), total)
	assert.True(t, sort.SliceIsSorted(starts, func(i, j int) bool { return starts[i] < starts[j] }),
		"folds must be temporally ordered")
}
