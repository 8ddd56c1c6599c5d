package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_Accessors(t *testing.T) {
	start := time.UnixMilli(1000).UTC()
	end := time.UnixMilli(1250).UTC()
	s := Session{
		ID:         SessionID(ProviderOpenAI, start, 3),
		Provider:   ProviderOpenAI,
		StartTS:    start,
		EndTS:      end,
		RequestIDs: []string{"a", "b", "c"},
		Flags:      []SessionFlag{FlagSingleton},
	}

	assert.Equal(t, "OpenAI:1000:3", s.ID)
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, int64(250), s.DurationMS())
	assert.True(t, s.HasFlag(FlagSingleton))
	assert.False(t, s.HasFlag(FlagGiant))
}

func TestSplitOrigin(t *testing.T) {
	assert.Equal(t, "split_from:OpenAI:1000:3", SplitOrigin("OpenAI:1000:3"))
}

func TestSimilarityConfidence(t *testing.T) {
	tests := []struct {
		name string
		mean float64
		min  float64
		want string
	}{
		{"high", 0.8, 0.6, "high"},
		{"high boundary", 0.7, 0.5, "high"},
		{"medium", 0.6, 0.4, "medium"},
		{"high mean but weak min", 0.8, 0.2, "low"},
		{"low", 0.3, 0.1, "low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SimilarityConfidence(tt.mean, tt.min))
		})
	}
}
