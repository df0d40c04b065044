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
	"github.com/memorypalace/core/pkg/guard"
)

// NewClassifier returns nil when write-guard LLM arbitration is disabled.
func NewClassifier(cfg config.Config) guard.Classifier {
	if !cfg.WriteGuardLLMEnabled || cfg.WriteGuardLLMAPIBase == "" {
		return nil
	}
	return &HTTPClassifier{
		baseURL:    strings.TrimRight(cfg.WriteGuardLLMAPIBase, "/"),
		apiKey:     cfg.WriteGuardLLMAPIKey,
		model:      cfg.WriteGuardLLMModel,
		maxRetries: cfg.MaxRemoteRetries,
		timeout:    cfg.RemoteTimeout,
		client:     &http.Client{Timeout: cfg.RemoteTimeout},
	}
}

// HTTPClassifier issues a bounded-length chat-style classification call to
// arbitrate between the four Write Guard actions when the semantic and
// keyword tiers both come back inconclusive.
type HTTPClassifier struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	timeout    time.Duration
	client     *http.Client
}

type classifyCandidateWire struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type classifyRequest struct {
	Model      string                   `json:"model"`
	Proposal   string                   `json:"proposal"`
	Candidates []classifyCandidateWire  `json:"candidates"`
}

type classifyResponse struct {
	Action     string  `json:"action"`
	TargetID   string  `json:"target_id"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, proposal string, candidates []guard.Candidate) (guard.Decision, error) {
	wire := make([]classifyCandidateWire, len(candidates))
	for i, cand := range candidates {
		wire[i] = classifyCandidateWire{ID: cand.MemoryID, Content: cand.Content}
	}
	body, err := json.Marshal(classifyRequest{Model: c.model, Proposal: proposal, Candidates: wire})
	if err != nil {
		return guard.Decision{}, errs.Wrap(errs.WriteGuardException, "failed to encode classify request", err)
	}

	var out classifyResponse
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("classify endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("classify endpoint returned %d: %s", resp.StatusCode, data))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return guard.Decision{}, errs.Wrap(errs.WriteGuardException, "llm classification failed after retries", err)
	}

	action := guard.Action(strings.ToUpper(out.Action))
	switch action {
	case guard.ActionAdd, guard.ActionUpdate, guard.ActionNoop, guard.ActionDelete:
	default:
		return guard.Decision{}, errs.New(errs.WriteGuardException, "llm returned unrecognized action: "+out.Action)
	}

	return guard.Decision{
		Action:     action,
		TargetID:   out.TargetID,
		Reason:     out.Reason,
		Confidence: out.Confidence,
	}, nil
}
