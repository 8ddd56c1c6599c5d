package domain

import (
	"fmt"
	"time"
)

// SessionFlag marks a structural property of a session.
type SessionFlag string

// Session flags.
const (
	// FlagSingleton marks a session with a single member.
	FlagSingleton SessionFlag = "singleton"

	// FlagGiant marks a session larger than the configured giant threshold.
	FlagGiant SessionFlag = "giant"

	// FlagLowCoherence marks a session whose MIBCS fell below the
	// coherence floor but that the refiner declined to split.
	FlagLowCoherence SessionFlag = "low_coherence"
)

// RefinementOriginInitial marks a session emitted directly by the bundler.
const RefinementOriginInitial = "initial"

// SplitOrigin formats the refinement origin for a child session.
func SplitOrigin(parentID string) string {
	return "split_from:" + parentID
}

// Session is a query fan-out session: a group of requests from one
// provider close enough in time (and, after refinement, in URL theme)
// to have originated from a single upstream user query.
// Sessions are immutable after emission; refinement replaces a parent
// with child sessions rather than mutating it.
type Session struct {
	// ID is stable within a single engine run: provider:start_ts:seq
	// for bundler output, <parent_id>:s<k> for refined child sessions.
	ID string

	// Provider is shared by every member request.
	Provider Provider

	// StartTS is the timestamp of the first member.
	StartTS time.Time

	// EndTS is the timestamp of the last member.
	EndTS time.Time

	// RequestIDs lists member request ids in timestamp order.
	RequestIDs []string

	// WindowUsed is the gap threshold in milliseconds that produced
	// this session.
	WindowUsed int64

	// RefinementOrigin is "initial" or "split_from:<parent_id>".
	// Empty when refinement is disabled.
	RefinementOrigin string

	// MIBCS is the mean intra-bundle cosine similarity.
	// Nil for singletons and for sessions with fewer than two
	// embeddable members.
	MIBCS *float64

	// MinSimilarity is the smallest pairwise cosine in the session.
	MinSimilarity *float64

	// MaxSimilarity is the largest pairwise cosine in the session.
	MaxSimilarity *float64

	// Name is a short human-readable label derived from the dominant
	// URL tokens. Empty until named.
	Name string

	// ConfidenceLevel rates the session's semantic coherence
	// (high, medium, low). Empty when similarity is undefined.
	ConfidenceLevel string

	// Flags carries structural markers (singleton, giant, low_coherence).
	Flags []SessionFlag
}

// Size returns the member count.
func (s Session) Size() int {
	return len(s.RequestIDs)
}

// DurationMS returns the session span in milliseconds.
func (s Session) DurationMS() int64 {
	return s.EndTS.UnixMilli() - s.StartTS.UnixMilli()
}

// HasFlag reports whether the session carries the given flag.
func (s Session) HasFlag(flag SessionFlag) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SessionID builds the canonical session identifier.
func SessionID(provider Provider, start time.Time, seq int) string {
	return fmt.Sprintf("%s:%d:%d", provider, start.UnixMilli(), seq)
}

// Confidence thresholds on (mean, min) pairwise similarity.
const (
	confidenceHighMean   = 0.7
	confidenceHighMin    = 0.5
	confidenceMediumMean = 0.5
	confidenceMediumMin  = 0.3
)

// SimilarityConfidence rates a session's coherence from its mean and
// minimum pairwise cosine similarity.
func SimilarityConfidence(mean, min float64) string {
	switch {
	case mean >= confidenceHighMean && min >= confidenceHighMin:
		return "high"
	case mean >= confidenceMediumMean && min >= confidenceMediumMin:
		return "medium"
	default:
		return "low"
	}
}
