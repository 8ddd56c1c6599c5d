package services

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

// themedReq builds a request without a host so similarity comes from
// the path alone.
func themedReq(id string, ms int64, path string) domain.Request {
	return domain.Request{
		ID:        id,
		Timestamp: time.UnixMilli(ms).UTC(),
		Provider:  domain.ProviderOpenAI,
		Category:  domain.CategoryUserRequest,
		Path:      path,
	}
}

func TestRefine_SplitsCollisionBundle(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	rng := rand.New(rand.NewSource(1))

	// Six requests inside 50ms with two disjoint URL themes.
	requests := []domain.Request{
		themedReq("w1", 0, "/api/weather/forecast/daily"),
		themedReq("s1", 8, "/api/stocks/quote/aapl"),
		themedReq("w2", 16, "/api/weather/forecast/hourly"),
		themedReq("s2", 24, "/api/stocks/quote/tsla"),
		themedReq("w3", 32, "/api/weather/forecast/weekly"),
		themedReq("s3", 40, "/api/stocks/quote/msft"),
	}

	sessions, pass := bundleAndAnnotate(t, cfg, requests, 100, rng)
	require.Len(t, sessions, 1)
	require.Equal(t, 6, sessions[0].Size())
	require.NotNil(t, sessions[0].MIBCS)
	parent := sessions[0]
	require.Less(t, *parent.MIBCS, 0.3, "mixed-theme bundle should have low coherence")

	refiner := NewRefinerService(cfg)
	refined, err := refiner.Refine(context.Background(), sessions, pass, rng)
	require.NoError(t, err)
	require.Len(t, refined, 2)

	t.Run("children partition the parent", func(t *testing.T) {
		var ids []string
		for _, child := range refined {
			ids = append(ids, child.RequestIDs...)
		}
		sort.Strings(ids)
		assert.Equal(t, []string{"s1", "s2", "s3", "w1", "w2", "w3"}, ids)
	})

	t.Run("children carry the split origin", func(t *testing.T) {
		for _, child := range refined {
			assert.Equal(t, domain.SplitOrigin(parent.ID), child.RefinementOrigin)
			assert.Equal(t, 3, child.Size())
			assert.Equal(t, parent.WindowUsed, child.WindowUsed)
		}
	})

	t.Run("coherence improves by the required margin", func(t *testing.T) {
		var mean float64
		for _, child := range refined {
			require.NotNil(t, child.MIBCS)
			mean += *child.MIBCS
		}
		mean /= float64(len(refined))
		assert.GreaterOrEqual(t, mean, *parent.MIBCS+cfg.MinMIBCSImprovement)
	})
}

func TestRefine_CoherentSessionPassesThrough(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	rng := rand.New(rand.NewSource(1))

	requests := []domain.Request{
		themedReq("a", 0, "/api/weather/forecast/daily"),
		themedReq("b", 8, "/api/weather/forecast/hourly"),
		themedReq("c", 16, "/api/weather/forecast/weekly"),
	}

	sessions, pass := bundleAndAnnotate(t, cfg, requests, 100, rng)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].MIBCS)
	require.GreaterOrEqual(t, *sessions[0].MIBCS, cfg.CoherenceFloor)

	refiner := NewRefinerService(cfg)
	refined, err := refiner.Refine(context.Background(), sessions, pass, rng)
	require.NoError(t, err)
	require.Len(t, refined, 1)
	assert.Equal(t, sessions[0].RequestIDs, refined[0].RequestIDs)
	assert.False(t, refined[0].HasFlag(domain.FlagLowCoherence))
}

func TestRefine_RejectedSplitFlagsLowCoherence(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	rng := rand.New(rand.NewSource(1))

	// Three mutually dissimilar requests: every component is a
	// singleton, so no split is possible.
	requests := []domain.Request{
		themedReq("a", 0, "/alpha/one"),
		themedReq("b", 8, "/beta/two"),
		themedReq("c", 16, "/gamma/three"),
	}

	sessions, pass := bundleAndAnnotate(t, cfg, requests, 100, rng)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].MIBCS)
	require.Less(t, *sessions[0].MIBCS, cfg.CoherenceFloor)

	refiner := NewRefinerService(cfg)
	refined, err := refiner.Refine(context.Background(), sessions, pass, rng)
	require.NoError(t, err)
	require.Len(t, refined, 1)
	assert.True(t, refined[0].HasFlag(domain.FlagLowCoherence))
	assert.Equal(t, sessions[0].RequestIDs, refined[0].RequestIDs)
}

func TestRefine_DisabledPassesEverythingThrough(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.RefinementEnabled = false
	rng := rand.New(rand.NewSource(1))

	requests := []domain.Request{
		themedReq("w1", 0, "/api/weather/forecast/daily"),
		themedReq("s1", 8, "/api/stocks/quote/aapl"),
		themedReq("w2", 16, "/api/weather/forecast/hourly"),
		themedReq("s2", 24, "/api/stocks/quote/tsla"),
	}

	sessions, pass := bundleAndAnnotate(t, cfg, requests, 100, rng)
	refiner := NewRefinerService(cfg)
	refined, err := refiner.Refine(context.Background(), sessions, pass, rng)
	require.NoError(t, err)
	assert.Equal(t, sessions, refined)
}

func TestRefine_SmallSessionsAreNotCandidates(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	rng := rand.New(rand.NewSource(1))

	// Two dissimilar requests: below min bundle size, passes through
	// without a flag.
	requests := []domain.Request{
		themedReq("a", 0, "/alpha/one"),
		themedReq("b", 8, "/beta/two"),
	}

	sessions, pass := bundleAndAnnotate(t, cfg, requests, 100, rng)
	require.Len(t, sessions, 1)

	refiner := NewRefinerService(cfg)
	refined, err := refiner.Refine(context.Background(), sessions, pass, rng)
	require.NoError(t, err)
	require.Len(t, refined, 1)
	assert.False(t, refined[0].HasFlag(domain.FlagLowCoherence))
}
