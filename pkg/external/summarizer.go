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

// GistResult is the outcome of a compact_context summarization call.
type GistResult struct {
	Text    string
	Quality float64
}

// Summarizer produces a compact gist from session content for
// compact_context. Implementations live here; pkg/tools only depends on
// this narrow interface.
type Summarizer interface {
	Summarize(ctx context.Context, content string, maxLines int) (GistResult, error)
}

// NewSummarizer returns nil when no gist LLM is configured (compact_gist
// falls back to write-guard config per spec.md §6); callers should fall
// back to a local extractive summary when nil.
func NewSummarizer(cfg config.Config) Summarizer {
	enabled, apiBase, apiKey, model := cfg.EffectiveCompactGistLLM()
	if !enabled || apiBase == "" {
		return nil
	}
	return &HTTPSummarizer{
		baseURL:    strings.TrimRight(apiBase, "/"),
		apiKey:     apiKey,
		model:      model,
		maxRetries: cfg.MaxRemoteRetries,
		timeout:    cfg.RemoteTimeout,
		client:     &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// HTTPSummarizer calls a remote LLM endpoint to compress session content
// into a gist, following the same bounded-retry HTTP shape as
// HTTPClassifier.
type HTTPSummarizer struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	timeout    time.Duration
	client     *http.Client
}

type summarizeRequest struct {
	Model    string `json:"model"`
	Content  string `json:"content"`
	MaxLines int    `json:"max_lines"`
}

type summarizeResponse struct {
	GistText string  `json:"gist_text"`
	Quality  float64 `json:"quality"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, content string, maxLines int) (GistResult, error) {
	body, err := json.Marshal(summarizeRequest{Model: s.model, Content: content, MaxLines: maxLines})
	if err != nil {
		return GistResult{}, errs.Wrap(errs.CompactGistLLMEmpty, "failed to encode summarize request", err)
	}

	var out summarizeResponse
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL+"/summarize", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("summarize endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("summarize endpoint returned %d: %s", resp.StatusCode, data))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return GistResult{}, errs.Wrap(errs.CompactGistLLMEmpty, "gist summarization failed after retries", err)
	}
	if strings.TrimSpace(out.GistText) == "" {
		return GistResult{}, errs.New(errs.CompactGistLLMEmpty, "summarizer returned an empty gist")
	}
	return GistResult{Text: out.GistText, Quality: out.Quality}, nil
}
