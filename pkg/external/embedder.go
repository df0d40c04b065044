// Package external adapts the memory core's optional remote dependencies
// (embeddings, reranking, LLM write-guard arbitration) behind narrow
// interfaces, each with a local degrade-tolerant fallback. Every remote
// call carries a per-call timeout and bounded jittered-backoff retries via
// github.com/cenkalti/backoff/v4, matching the teacher's retry posture in
// its gRPC client wrapper (pkg/client/client.go) generalized from gRPC
// status codes to plain HTTP.
package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/errs"
)

// Embedder produces a dense embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// NewEmbedder selects an Embedder implementation from cfg.EmbeddingBackend.
// EmbeddingNone returns nil, signalling to callers that the semantic tier
// (guard, retrieval vector stage) should be skipped entirely rather than
// degrade on every call.
func NewEmbedder(cfg config.Config) Embedder {
	switch cfg.EmbeddingBackend {
	case config.EmbeddingNone:
		return nil
	case config.EmbeddingHash:
		return HashEmbedder{Dim: cfg.EmbeddingDim}
	case config.EmbeddingRouter, config.EmbeddingAPI:
		return &HTTPEmbedder{
			baseURL:    strings.TrimRight(cfg.EmbeddingAPIBase, "/"),
			apiKey:     cfg.EmbeddingAPIKey,
			model:      cfg.EmbeddingModel,
			maxRetries: cfg.MaxRemoteRetries,
			timeout:    cfg.RemoteTimeout,
			client:     &http.Client{Timeout: cfg.RemoteTimeout},
		}
	default:
		return HashEmbedder{Dim: cfg.EmbeddingDim}
	}
}

// HashEmbedder is a deterministic, zero-dependency local fallback: it hashes
// each token into a fixed-width vector of signed buckets, giving memories
// with overlapping vocabulary nonzero cosine similarity without ever
// leaving the process. It exists so SEM_* guard thresholds and the vector
// retrieval stage remain exercised even with no embedding API configured.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float64, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[0:4]) % uint32(dim)
		sign := 1.0
		if sum[4]%2 == 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// HTTPEmbedder calls a remote embedding endpoint expecting a JSON body of
// {"model": ..., "input": ...} and a response of {"embedding": [...]}.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	timeout    time.Duration
	client     *http.Client
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.baseURL == "" {
		return nil, errs.New(errs.EmbeddingRequestFailed, "embedding API base not configured")
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, errs.Wrap(errs.EmbeddingRequestFailed, "failed to encode embed request", err)
	}

	var out embedResponse
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return err // retryable: network error
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("embedding endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, data))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errs.Wrap(errs.EmbeddingRequestFailed, "embedding request failed after retries", err)
	}
	return out.Embedding, nil
}
