package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
	"github.com/custodia-labs/fanout-cli/internal/tokenize"
)

// embeddingPass holds the transient per-evaluation embedding space:
// one L2-normalized row per request, addressable by request id.
type embeddingPass struct {
	requests []domain.Request
	tokens   [][]string
	rows     [][]float64
	rowOf    map[string]int
}

// buildPass tokenizes every request and embeds the sequences.
func buildPass(
	ctx context.Context,
	requests []domain.Request,
	tokenizer *tokenize.Tokenizer,
	embedder driven.Embedder,
) (*embeddingPass, error) {
	tokens := make([][]string, len(requests))
	for i, req := range requests {
		tokens[i] = tokenizer.TokenizeRaw(req.Host, req.Path, req.QueryString)
	}

	rows, err := embedder.Embed(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("embed %d requests: %w", len(requests), err)
	}

	rowOf := make(map[string]int, len(requests))
	for i, req := range requests {
		rowOf[req.ID] = i
	}

	return &embeddingPass{
		requests: requests,
		tokens:   tokens,
		rows:     rows,
		rowOf:    rowOf,
	}, nil
}

// rowIndices maps a session's request ids to row indices.
func (p *embeddingPass) rowIndices(session domain.Session) []int {
	indices := make([]int, 0, len(session.RequestIDs))
	for _, id := range session.RequestIDs {
		if idx, ok := p.rowOf[id]; ok {
			indices = append(indices, idx)
		}
	}
	return indices
}

// annotate fills the similarity fields of each session: MIBCS,
// min/max pairwise cosine, confidence level, and the derived name.
// Sessions too small (or with fewer than two embeddable members) keep
// a nil MIBCS.
func (p *embeddingPass) annotate(sessions []domain.Session, cfg domain.EngineConfig, rng *rand.Rand) {
	for i := range sessions {
		s := &sessions[i]

		stats, ok := pairwiseStats(p.rows, p.rowIndices(*s), cfg.MaxIntraBundlePairs, rng)
		if ok {
			mean, min, max := stats.mean, stats.min, stats.max
			s.MIBCS = &mean
			s.MinSimilarity = &min
			s.MaxSimilarity = &max
			s.ConfidenceLevel = domain.SimilarityConfidence(mean, min)
		}

		s.Name = p.sessionName(*s)
	}
}

// sessionName derives a short label from the most frequent topical
// tokens of the session's members. Host, query and extension tokens
// and the numeric sentinel are skipped.
func (p *embeddingPass) sessionName(session domain.Session) string {
	counts := make(map[string]int)
	var order []string
	for _, id := range session.RequestIDs {
		idx, ok := p.rowOf[id]
		if !ok {
			continue
		}
		for _, tok := range p.tokens[idx] {
			if strings.ContainsRune(tok, ':') || tok == tokenize.SentinelNumeric {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}
	if len(order) == 0 {
		return ""
	}

	// Highest count first; first occurrence breaks ties.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 3 {
		order = order[:3]
	}
	return strings.Join(order, "-")
}
