package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/errs"
)

// RerankCandidate is one item submitted for rerank scoring.
type RerankCandidate struct {
	MemoryID string
	Content  string
}

// RerankScore is the reranker's verdict for one candidate.
type RerankScore struct {
	MemoryID string
	Score    float64
}

// Reranker reorders a candidate set against a query using a cross-encoder
// style remote model.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankScore, error)
}

// NewReranker returns nil when disabled, signalling callers to skip the
// rerank stage entirely (spec.md §4.7 rerank is optional).
func NewReranker(cfg config.Config) Reranker {
	if !cfg.RerankerEnabled || cfg.RerankerAPIBase == "" {
		return nil
	}
	return &HTTPReranker{
		baseURL:    strings.TrimRight(cfg.RerankerAPIBase, "/"),
		apiKey:     cfg.RerankerAPIKey,
		model:      cfg.RerankerModel,
		maxRetries: cfg.MaxRemoteRetries,
		timeout:    cfg.RemoteTimeout,
		client:     &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// HTTPReranker calls a remote rerank endpoint expecting
// {"model","query","documents":[{"id","text"}]} and a response of
// {"scores":[{"id","score"}]}.
type HTTPReranker struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	timeout    time.Duration
	client     *http.Client
}

type rerankDoc struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankRequest struct {
	Model     string      `json:"model"`
	Query     string      `json:"query"`
	Documents []rerankDoc `json:"documents"`
}

type rerankScoreWire struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type rerankResponse struct {
	Scores []rerankScoreWire `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankScore, error) {
	docs := make([]rerankDoc, len(candidates))
	for i, c := range candidates {
		docs[i] = rerankDoc{ID: c.MemoryID, Text: c.Content}
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: docs})
	if err != nil {
		return nil, errs.Wrap(errs.RerankerRequestFailed, "failed to encode rerank request", err)
	}

	var out rerankResponse
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("rerank endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, data))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.maxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, errs.Wrap(errs.RerankerRequestFailed, "rerank request failed after retries", err)
	}

	scores := make([]RerankScore, len(out.Scores))
	for i, s := range out.Scores {
		scores[i] = RerankScore{MemoryID: s.ID, Score: s.Score}
	}
	return scores, nil
}
