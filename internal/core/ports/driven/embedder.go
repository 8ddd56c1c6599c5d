package driven

import "context"

// Embedder maps token sequences to dense row vectors.
//
// The contract the engine depends on: one row per input sequence, every
// row L2-normalized, so cosine similarity reduces to a dot product. A
// sequence with no usable tokens yields a zero row; similarity against
// a zero row is defined as 0.
//
// Implementations:
//   - TF-IDF over a per-pass vocabulary (default, no I/O)
//   - Transformer models served over HTTP
type Embedder interface {
	// Embed vectorizes the token sequences. The returned matrix has
	// len(tokenLists) rows. Fitting (vocabulary construction for
	// TF-IDF) happens inside the call over exactly these sequences.
	Embed(ctx context.Context, tokenLists [][]string) ([][]float64, error)

	// Name identifies the backend for logs and reports.
	Name() string
}
