package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// req builds a test request at the given millisecond offset.
func req(id string, provider domain.Provider, ms int64, path string) domain.Request {
	return domain.Request{
		ID:        id,
		Timestamp: time.UnixMilli(ms).UTC(),
		Provider:  provider,
		Category:  domain.CategoryUserRequest,
		Host:      "www.example.com",
		Path:      path,
	}
}

// reqs builds a run of requests for one provider at the given offsets.
func reqs(provider domain.Provider, offsets ...int64) []domain.Request {
	out := make([]domain.Request, len(offsets))
	for i, ms := range offsets {
		out[i] = req(fmt.Sprintf("%s-%d", provider, i), provider, ms, "/api/weather/forecast")
	}
	return out
}

func TestBundle_BasicTemporalGrouping(t *testing.T) {
	// Two bursts: 0,9,18,27 and 5000,5008.
	bundler := NewBundleService(domain.DefaultEngineConfig())

	sessions, err := bundler.Bundle(context.Background(),
		reqs(domain.ProviderOpenAI, 0, 9, 18, 27, 5000, 5008), 100)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, 4, sessions[0].Size())
	assert.Equal(t, 2, sessions[1].Size())
	for _, s := range sessions {
		assert.False(t, s.HasFlag(domain.FlagSingleton))
		assert.False(t, s.HasFlag(domain.FlagGiant))
		assert.Equal(t, int64(100), s.WindowUsed)
		assert.Equal(t, domain.RefinementOriginInitial, s.RefinementOrigin)
	}
}

func TestBundle_ProviderIsolation(t *testing.T) {
	// Interleaved providers at identical timestamps never merge.
	bundler := NewBundleService(domain.DefaultEngineConfig())

	input := []domain.Request{
		req("o-0", domain.ProviderOpenAI, 0, "/a"),
		req("a-0", domain.ProviderAnthropic, 0, "/a"),
		req("o-1", domain.ProviderOpenAI, 10, "/a"),
		req("a-1", domain.ProviderAnthropic, 10, "/a"),
	}

	sessions, err := bundler.Bundle(context.Background(), input, 100)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Emission order: providers ascending.
	assert.Equal(t, domain.ProviderAnthropic, sessions[0].Provider)
	assert.Equal(t, domain.ProviderOpenAI, sessions[1].Provider)
	assert.Equal(t, []string{"a-0", "a-1"}, sessions[0].RequestIDs)
	assert.Equal(t, []string{"o-0", "o-1"}, sessions[1].RequestIDs)
}

func TestBundle_GapAtBoundaryIsInclusive(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())

	sessions, err := bundler.Bundle(context.Background(),
		reqs(domain.ProviderOpenAI, 0, 100, 200), 100)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].Size())
}

func TestBundle_SingletonEmitted(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())

	sessions, err := bundler.Bundle(context.Background(),
		reqs(domain.ProviderOpenAI, 0, 5000), 100)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].HasFlag(domain.FlagSingleton))
	assert.True(t, sessions[1].HasFlag(domain.FlagSingleton))
}

func TestBundle_IdenticalTimestampsKeepInputOrder(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())

	input := []domain.Request{
		req("first", domain.ProviderOpenAI, 50, "/a"),
		req("second", domain.ProviderOpenAI, 50, "/b"),
		req("third", domain.ProviderOpenAI, 50, "/c"),
	}

	sessions, err := bundler.Bundle(context.Background(), input, 100)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"first", "second", "third"}, sessions[0].RequestIDs)
}

func TestBundle_OutOfOrderInput(t *testing.T) {
	input := []domain.Request{
		req("late", domain.ProviderOpenAI, 100, "/a"),
		req("early", domain.ProviderOpenAI, 50, "/a"),
	}

	t.Run("rejected when presort disabled", func(t *testing.T) {
		cfg := domain.DefaultEngineConfig()
		cfg.PresortEnabled = false
		bundler := NewBundleService(cfg)

		_, err := bundler.Bundle(context.Background(), input, 100)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInputOrder)
		assert.Contains(t, err.Error(), "OpenAI")
	})

	t.Run("sorted when presort enabled", func(t *testing.T) {
		bundler := NewBundleService(domain.DefaultEngineConfig())

		sessions, err := bundler.Bundle(context.Background(), input, 100)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, []string{"early", "late"}, sessions[0].RequestIDs)
	})
}

func TestBundle_GapBoundInvariant(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := reqs(domain.ProviderOpenAI, 0, 40, 90, 200, 260, 900, 901, 2000)

	const window = int64(120)
	sessions, err := bundler.Bundle(context.Background(), input, window)
	require.NoError(t, err)

	byID := make(map[string]domain.Request)
	for _, r := range input {
		byID[r.ID] = r
	}
	for _, s := range sessions {
		for i := 1; i < len(s.RequestIDs); i++ {
			gap := byID[s.RequestIDs[i]].UnixMilli() - byID[s.RequestIDs[i-1]].UnixMilli()
			assert.LessOrEqual(t, gap, window)
		}
	}
}

func TestBundle_PartitionInvariant(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := append(
		reqs(domain.ProviderOpenAI, 0, 10, 400, 900, 905),
		reqs(domain.ProviderAnthropic, 5, 15, 4000)...,
	)

	sessions, err := bundler.Bundle(context.Background(), input, 100)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, s := range sessions {
		for _, id := range s.RequestIDs {
			seen[id]++
		}
	}
	assert.Len(t, seen, len(input))
	for id, count := range seen {
		assert.Equal(t, 1, count, "request %s must appear in exactly one session", id)
	}
}

func TestBundle_MonotoneGapSensitivity(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := reqs(domain.ProviderOpenAI, 0, 30, 70, 150, 400, 420, 1000, 1100, 3000)

	counts := make([]int, 0, 4)
	for _, w := range []int64{50, 100, 500, 1000} {
		sessions, err := bundler.Bundle(context.Background(), input, w)
		require.NoError(t, err)
		counts = append(counts, len(sessions))
	}

	for i := 1; i < len(counts); i++ {
		assert.LessOrEqual(t, counts[i], counts[i-1],
			"session count must not grow with a larger window")
	}
}

func TestBundle_Idempotent(t *testing.T) {
	// Feeding the emitted sessions' members back in reproduces them.
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := reqs(domain.ProviderOpenAI, 0, 9, 18, 27, 5000, 5008)

	first, err := bundler.Bundle(context.Background(), input, 100)
	require.NoError(t, err)

	byID := make(map[string]domain.Request)
	for _, r := range input {
		byID[r.ID] = r
	}
	var replay []domain.Request
	for _, s := range first {
		for _, id := range s.RequestIDs {
			replay = append(replay, byID[id])
		}
	}

	second, err := bundler.Bundle(context.Background(), replay, 100)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].RequestIDs, second[i].RequestIDs)
	}
}

func TestDeltaStats(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := reqs(domain.ProviderOpenAI, 0, 10, 20, 120)

	stats, err := bundler.DeltaStats(context.Background(), input)
	require.NoError(t, err)

	s, ok := stats[domain.ProviderOpenAI]
	require.True(t, ok)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 40.0, s.MeanMS, 1e-9) // gaps 10, 10, 100
	assert.InDelta(t, 10.0, s.MedianMS, 1e-9)
	assert.InDelta(t, 10.0, s.MinMS, 1e-9)
	assert.InDelta(t, 100.0, s.MaxMS, 1e-9)
	assert.Contains(t, s.Percentiles, "p90")
}

func TestCandidateWindows(t *testing.T) {
	bundler := NewBundleService(domain.DefaultEngineConfig())
	input := reqs(domain.ProviderOpenAI, 0, 10, 20, 30, 40, 50, 1050)

	windows, err := bundler.CandidateWindows(context.Background(), input, []float64{50, 99})
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	// Ascending, positive, deduplicated.
	for i, w := range windows {
		assert.Positive(t, w)
		if i > 0 {
			assert.Greater(t, w, windows[i-1])
		}
	}
}
