// Package dense provides an embedding backend that calls a transformer
// model served over HTTP (an Ollama-compatible embeddings endpoint).
package dense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/fanout-cli/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL           = "http://localhost:11434"
	DefaultModel             = "all-minilm"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 20.0
	DefaultBurstSize         = 10
)

// Config holds configuration for the dense embedding backend.
type Config struct {
	// BaseURL is the embedding server base URL.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RequestsPerSecond limits the call rate against the server.
	RequestsPerSecond float64

	// BurstSize is the limiter burst.
	BurstSize int
}

// Embedder generates dense embeddings through an HTTP model server.
// Calls are rate limited so large passes do not overwhelm a local
// inference server.
type Embedder struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	model   string
}

// embedRequest is the server request format.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the server response format.
type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// New creates a dense embedding backend.
func New(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}

	return &Embedder{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
	}
}

// Name identifies the backend.
func (e *Embedder) Name() string {
	return "transformer"
}

// Embed vectorizes each token sequence through the model server and
// L2-normalizes the rows. An empty sequence becomes a zero row without
// a server call; its width matches the other rows.
func (e *Embedder) Embed(ctx context.Context, tokenLists [][]string) ([][]float64, error) {
	matrix := make([][]float64, len(tokenLists))
	width := 0

	for i, tokens := range tokenLists {
		if len(tokens) == 0 {
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		row, err := e.embedOne(ctx, strings.Join(tokens, " "))
		if err != nil {
			return nil, fmt.Errorf("embed sequence %d: %w", i, err)
		}
		normalize(row)
		matrix[i] = row
		width = len(row)
	}

	for i, row := range matrix {
		if row == nil {
			matrix[i] = make([]float64, width)
		}
	}

	return matrix, nil
}

// embedOne requests a single embedding from the server.
func (e *Embedder) embedOne(ctx context.Context, text string) ([]float64, error) {
	jsonBody, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+"/api/embeddings",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("embedding server error (status %d): failed to read response", resp.StatusCode)
		}
		return nil, fmt.Errorf("embedding server error (status %d): %s", resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return embedResp.Embedding, nil
}

// Ping validates the server is reachable without running inference.
func (e *Embedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server returned status %d", resp.StatusCode)
	}
	return nil
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
