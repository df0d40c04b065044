// Package client is a thin HTTP/JSON wrapper over pkg/httpapi, for CLI and
// other Go callers that don't want to speak the wire format directly.
// Grounded on the teacher's pkg/client.Client: one constructor, one method
// per server operation, each opening a bounded-deadline call and returning
// the decoded result. The teacher dials gRPC with mTLS; here there is no
// certificate dance, just a base URL and an API key header, per the
// control plane's plain-HTTP contract (spec.md §6).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/tools"
)

// Client wraps the memory core's HTTP control plane for CLI usage.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://127.0.0.1:7777"),
// presenting apiKey on every write call. apiKey may be empty when the
// server has insecure-local-loopback override enabled.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var reqBody *bytes.Buffer
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = buf
	} else {
		reqBody = &bytes.Buffer{}
	}

	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, full, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MCP-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var wireErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Reason  string `json:"reason"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wireErr)
		msg := wireErr.Message
		if msg == "" {
			msg = wireErr.Reason
		}
		return errs.New(errs.Kind(wireErr.Error), msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ReadMemory calls GET /memory.
func (c *Client) ReadMemory(ctx context.Context, address, sessionID string) (tools.ReadMemoryResult, error) {
	q := url.Values{"address": {address}}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	var out tools.ReadMemoryResult
	err := c.do(ctx, http.MethodGet, "/memory", q, nil, &out)
	return out, err
}

// CreateMemory calls POST /memory.
func (c *Client) CreateMemory(ctx context.Context, sessionID, parentAddress, content string, priority int, title, disclosure string) (tools.CreateMemoryResult, error) {
	body := map[string]interface{}{
		"session_id":     sessionID,
		"parent_address": parentAddress,
		"content":        content,
		"priority":       priority,
		"title":          title,
		"disclosure":     disclosure,
	}
	var out tools.CreateMemoryResult
	err := c.do(ctx, http.MethodPost, "/memory", nil, body, &out)
	return out, err
}

// UpdateMemoryPatch calls PATCH /memory with an old/new text replacement.
func (c *Client) UpdateMemoryPatch(ctx context.Context, sessionID, address, old, newText string) (tools.UpdateMemoryResult, error) {
	body := map[string]interface{}{
		"session_id": sessionID,
		"address":    address,
		"old":        old,
		"new":        newText,
	}
	var out tools.UpdateMemoryResult
	err := c.do(ctx, http.MethodPatch, "/memory", nil, body, &out)
	return out, err
}

// UpdateMemoryAppend calls PATCH /memory with an append form.
func (c *Client) UpdateMemoryAppend(ctx context.Context, sessionID, address, tail string) (tools.UpdateMemoryResult, error) {
	body := map[string]interface{}{
		"session_id": sessionID,
		"address":    address,
		"append":     tail,
	}
	var out tools.UpdateMemoryResult
	err := c.do(ctx, http.MethodPatch, "/memory", nil, body, &out)
	return out, err
}

// DeleteMemory calls DELETE /memory.
func (c *Client) DeleteMemory(ctx context.Context, sessionID, address string) (tools.DeleteMemoryResult, error) {
	body := map[string]interface{}{"session_id": sessionID, "address": address}
	var out tools.DeleteMemoryResult
	err := c.do(ctx, http.MethodDelete, "/memory", nil, body, &out)
	return out, err
}

// AddAlias calls POST /alias.
func (c *Client) AddAlias(ctx context.Context, newAddress, targetAddress string, priority int, disclosure string) (tools.AddAliasResult, error) {
	body := map[string]interface{}{
		"new_address":    newAddress,
		"target_address": targetAddress,
		"priority":       priority,
		"disclosure":     disclosure,
	}
	var out tools.AddAliasResult
	err := c.do(ctx, http.MethodPost, "/alias", nil, body, &out)
	return out, err
}

// SearchMemory calls GET /search.
func (c *Client) SearchMemory(ctx context.Context, query, mode string, maxResults int) (tools.SearchMemoryResult, error) {
	q := url.Values{"query": {query}}
	if mode != "" {
		q.Set("mode", mode)
	}
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	var out tools.SearchMemoryResult
	err := c.do(ctx, http.MethodGet, "/search", q, nil, &out)
	return out, err
}

// CompactContext calls POST /compact.
func (c *Client) CompactContext(ctx context.Context, sessionID, content, reasonTag string, force bool, maxLines int) (tools.CompactContextResult, error) {
	body := map[string]interface{}{
		"session_id": sessionID,
		"content":    content,
		"reason_tag": reasonTag,
		"force":      force,
		"max_lines":  maxLines,
	}
	var out tools.CompactContextResult
	err := c.do(ctx, http.MethodPost, "/compact", nil, body, &out)
	return out, err
}

// RebuildIndex calls POST /index/rebuild.
func (c *Client) RebuildIndex(ctx context.Context, memoryID, reason string, wait bool, timeoutSeconds int, sleepConsolidation bool) (tools.RebuildIndexResult, error) {
	body := map[string]interface{}{
		"memory_id":           memoryID,
		"reason":              reason,
		"wait":                wait,
		"timeout_seconds":     timeoutSeconds,
		"sleep_consolidation": sleepConsolidation,
	}
	var out tools.RebuildIndexResult
	err := c.do(ctx, http.MethodPost, "/index/rebuild", nil, body, &out)
	return out, err
}

// IndexStatus calls GET /index/status.
func (c *Client) IndexStatus(ctx context.Context) (tools.IndexStatusResult, error) {
	var out tools.IndexStatusResult
	err := c.do(ctx, http.MethodGet, "/index/status", nil, nil, &out)
	return out, err
}

// RetryIndexJob calls POST /index/jobs/{id}/retry.
func (c *Client) RetryIndexJob(ctx context.Context, jobID, reason string) (tools.RebuildIndexResult, error) {
	var out tools.RebuildIndexResult
	err := c.do(ctx, http.MethodPost, "/index/jobs/"+url.PathEscape(jobID)+"/retry", nil, map[string]string{"reason": reason}, &out)
	return out, err
}

// CleanupSelection is one memory_id/state_hash pair submitted for review.
type CleanupSelection struct {
	MemoryID  string `json:"memory_id"`
	StateHash string `json:"state_hash"`
}

// CleanupReview is the review handle returned by PrepareCleanup.
type CleanupReview struct {
	ReviewID           string    `json:"review_id"`
	Token              string    `json:"token"`
	ConfirmationPhrase string    `json:"confirmation_phrase"`
	ExpiresAt          time.Time `json:"expires_at"`
	Action             string    `json:"action"`
	Reviewer           string    `json:"reviewer"`
}

// PrepareCleanup calls POST /vitality/cleanup/prepare.
func (c *Client) PrepareCleanup(ctx context.Context, action, reviewer string, selections []CleanupSelection) (CleanupReview, error) {
	body := map[string]interface{}{"action": action, "reviewer": reviewer, "selections": selections}
	var out struct {
		Review CleanupReview `json:"review"`
	}
	err := c.do(ctx, http.MethodPost, "/vitality/cleanup/prepare", nil, body, &out)
	return out.Review, err
}

// CleanupOutcome is the tally returned by ConfirmCleanup.
type CleanupOutcome struct {
	Status       string `json:"status"`
	DeletedCount int    `json:"deleted_count"`
	KeptCount    int    `json:"kept_count"`
	SkippedCount int    `json:"skipped_count"`
	ErrorCount   int    `json:"error_count"`
}

// ConfirmCleanup calls POST /vitality/cleanup/confirm.
func (c *Client) ConfirmCleanup(ctx context.Context, reviewID, token, confirmationPhrase string) (CleanupOutcome, error) {
	body := map[string]interface{}{"review_id": reviewID, "token": token, "confirmation_phrase": confirmationPhrase}
	var out CleanupOutcome
	err := c.do(ctx, http.MethodPost, "/vitality/cleanup/confirm", nil, body, &out)
	return out, err
}
