package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
)

func TestEmbedder_Name(t *testing.T) {
	assert.Equal(t, "tfidf", New().Name())
}

func TestEmbed_RowsAreNormalized(t *testing.T) {
	e := New()
	matrix, err := e.Embed(context.Background(), [][]string{
		{"api", "weather", "forecast"},
		{"api", "stocks", "quote"},
		{"blog", "home", "buying"},
	})
	require.NoError(t, err)
	require.Len(t, matrix, 3)

	for i, row := range matrix {
		var sum float64
		for _, v := range row {
			sum += v * v
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9, "row %d should have unit norm", i)
	}
}

func TestEmbed_CosineBehaviour(t *testing.T) {
	e := New()
	matrix, err := e.Embed(context.Background(), [][]string{
		{"api", "weather", "forecast"},
		{"api", "weather", "forecast"},
		{"blog", "kitchen", "remodel"},
	})
	require.NoError(t, err)

	cos := func(a, b []float64) float64 {
		var sum float64
		for i := range a {
			sum += a[i] * b[i]
		}
		return sum
	}

	t.Run("identical sequences have cosine 1", func(t *testing.T) {
		assert.InDelta(t, 1.0, cos(matrix[0], matrix[1]), 1e-9)
	})

	t.Run("disjoint sequences have cosine 0", func(t *testing.T) {
		assert.InDelta(t, 0.0, cos(matrix[0], matrix[2]), 1e-9)
	})

	t.Run("cosines stay within bounds", func(t *testing.T) {
		for i := range matrix {
			for j := range matrix {
				c := cos(matrix[i], matrix[j])
				assert.GreaterOrEqual(t, c, -1.0-1e-9)
				assert.LessOrEqual(t, c, 1.0+1e-9)
			}
		}
	})
}

func TestEmbed_EmptySequenceYieldsZeroRow(t *testing.T) {
	e := New()
	matrix, err := e.Embed(context.Background(), [][]string{
		{"api", "weather"},
		{},
	})
	require.NoError(t, err)
	require.Len(t, matrix, 2)

	for _, v := range matrix[1] {
		assert.Zero(t, v)
	}
}

func TestEmbed_DegenerateVocabulary(t *testing.T) {
	e := New()
	_, err := e.Embed(context.Background(), [][]string{{}, {}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingDegenerate)
}

func TestEmbed_Deterministic(t *testing.T) {
	e := New()
	input := [][]string{
		{"api", "weather", "forecast", "daily"},
		{"api", "weather", "radar"},
		{"blog", "guide"},
	}

	first, err := e.Embed(context.Background(), input)
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
