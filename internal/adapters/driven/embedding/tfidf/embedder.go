// Package tfidf provides the default embedding backend: TF-IDF over a
// vocabulary built from the token sequences of a single pass.
package tfidf

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/fanout-cli/internal/core/domain"
	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Embedder vectorizes token sequences with TF-IDF.
//
// The vocabulary is local to each Embed call: cheap to rebuild per
// (window, fold) evaluation and free of cross-task sharing. Rows are
// L2-normalized so cosine similarity is a plain dot product; a sequence
// with no tokens becomes a zero row.
type Embedder struct{}

// New creates a TF-IDF embedder.
func New() *Embedder {
	return &Embedder{}
}

// Name identifies the backend.
func (e *Embedder) Name() string {
	return "tfidf"
}

// Embed builds the vocabulary over the given sequences and returns one
// normalized row per sequence.
//
// idf(t) = ln((1 + N) / (1 + df(t))) + 1, tf is the raw in-sequence
// count. Returns ErrEmbeddingDegenerate when no sequence contains a
// single token.
func (e *Embedder) Embed(ctx context.Context, tokenLists [][]string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(tokenLists)

	// Document frequency: in how many sequences each token appears.
	df := make(map[string]int)
	for _, tokens := range tokenLists {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	if len(df) == 0 {
		return nil, fmt.Errorf("tfidf: %w", domain.ErrEmbeddingDegenerate)
	}

	// Sorted vocabulary keeps column order deterministic.
	vocab := make([]string, 0, len(df))
	for tok := range df {
		vocab = append(vocab, tok)
	}
	sort.Strings(vocab)

	index := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	for j, tok := range vocab {
		index[tok] = j
		idf[j] = math.Log(float64(1+n)/float64(1+df[tok])) + 1
	}

	matrix := make([][]float64, n)
	for i, tokens := range tokenLists {
		row := make([]float64, len(vocab))
		for _, tok := range tokens {
			row[index[tok]] += 1
		}
		for j := range row {
			row[j] *= idf[j]
		}
		normalize(row)
		matrix[i] = row
	}

	return matrix, nil
}

// normalize scales the row to unit L2 norm in place. A zero row stays zero.
func normalize(row []float64) {
	var sum float64
	for _, v := range row {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for j := range row {
		row[j] /= norm
	}
}
