// Package retrieval implements the multi-stage search pipeline: query
// preprocessing, intent classification, strategy selection, keyword and
// vector candidate generation, score merging, optional reranking, and
// filter/cut, with every stage degrading gracefully instead of failing
// the request. Modeled on the teacher's per-cycle method decomposition
// (pkg/scheduler.go: one method per reconciliation phase, composed by a
// single driving function) generalized from a scheduler tick into a
// per-request pipeline.
package retrieval

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/memorypalace/core/pkg/external"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/metrics"
	"github.com/memorypalace/core/pkg/store"
)

// Mode is the keyword/semantic/hybrid override a caller may request.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Intent is one of the four classified query intents, or unknown.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentExploratory Intent = "exploratory"
	IntentTemporal    Intent = "temporal"
	IntentCausal      Intent = "causal"
	IntentUnknown     Intent = "unknown"
)

// Request is one retrieval call.
type Request struct {
	RawQuery       string
	Mode           Mode // empty means use the configured default
	IncludeSession bool
	SessionMemoryIDs []string
	Domain         string // optional filter
	PathPrefix     string // optional filter
	MaxPriority    *int
	UpdatedAfter   *time.Time

	// MaxResults and CandidateMultiplier, when > 0, override the strategy
	// template's defaults for this one request (spec.md §6 search_memory
	// max_results 1..50 / candidate_multiplier 1..20).
	MaxResults         int
	CandidateMultiplier int
}

// Result is one scored memory in the response.
type Result struct {
	MemoryID    string
	Score       float64
	SessionHit  bool
}

// Response is the full pipeline outcome.
type Response struct {
	QueryEffective string
	Intent         Intent
	Strategy       string
	ModeApplied    Mode
	Results        []Result
	DegradeReasons []string
}

// Weights carries the merge/rerank weighting in effect for one request,
// either the global default or a strategy template's override.
type Weights struct {
	KeywordWeight  float64
	SemanticWeight float64
	RerankWeight   float64
}

// Thresholds holds intent-classification cutoffs (spec.md §4.7).
type Thresholds struct {
	IntentStrongMargin    float64
	IntentFloor           float64
	IntentAmbiguousMargin float64
}

// Pipeline executes retrieval requests against a Store, with optional
// remote embedding/rerank adapters.
type Pipeline struct {
	store      *store.Store
	embedder   external.Embedder
	reranker   external.Reranker
	thresholds Thresholds
	defaultMode Mode
	poolK      int
}

// New builds a Pipeline. embedder/reranker may be nil to disable their
// respective stages.
func New(st *store.Store, embedder external.Embedder, reranker external.Reranker, thresholds Thresholds, defaultMode Mode, poolK int) *Pipeline {
	if poolK <= 0 {
		poolK = 20
	}
	if defaultMode == "" {
		defaultMode = ModeHybrid
	}
	return &Pipeline{store: st, embedder: embedder, reranker: reranker, thresholds: thresholds, defaultMode: defaultMode, poolK: poolK}
}

// Search runs the full pipeline for req.
func (p *Pipeline) Search(ctx context.Context, req Request) Response {
	timer := metrics.NewTimer()

	resp := Response{}
	requestedMode := req.Mode
	if requestedMode == "" {
		requestedMode = p.defaultMode
	}
	resp.QueryEffective = preprocess(req.RawQuery)

	resp.Intent = classifyIntent(resp.QueryEffective, p.thresholds)
	tmpl := strategyFor(resp.Intent)
	resp.Strategy = tmpl.Name

	mode := req.Mode
	if mode == "" {
		mode = p.defaultMode
	}
	resp.ModeApplied = mode

	poolMultiplier := tmpl.PoolMultiplier
	if req.CandidateMultiplier > 0 {
		poolMultiplier = req.CandidateMultiplier
	}
	limit := p.poolK * poolMultiplier

	kwResults := map[string]float64{}
	if mode == ModeKeyword || mode == ModeHybrid {
		for _, r := range p.store.Keyword(resp.QueryEffective, limit) {
			kwResults[r.MemoryID] = r.Score
		}
	}
	normalizeScores(kwResults)

	semResults := map[string]float64{}
	if (mode == ModeSemantic || mode == ModeHybrid) && p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, resp.QueryEffective)
		if err != nil {
			log.WithComponent("retrieval").Warn().Err(err).Msg("query embedding failed, degrading to keyword-only")
			resp.DegradeReasons = append(resp.DegradeReasons, "embedding_request_failed")
			resp.ModeApplied = ModeKeyword
		} else {
			for _, r := range p.store.Vector(vec, limit) {
				semResults[r.MemoryID] = r.Score
			}
		}
	} else if mode != ModeKeyword && p.embedder == nil {
		resp.DegradeReasons = append(resp.DegradeReasons, "embedding_adapter_unavailable")
		if resp.ModeApplied != ModeKeyword {
			resp.ModeApplied = ModeKeyword
		}
	}

	weights := Weights{KeywordWeight: tmpl.KeywordWeight, SemanticWeight: tmpl.SemanticWeight, RerankWeight: tmpl.RerankWeight}
	merged := p.merge(kwResults, semResults, weights)

	if req.IncludeSession {
		p.seedSession(merged, req.SessionMemoryIDs)
	}

	if tmpl.RerankWeight > 0 && p.reranker != nil && len(merged) > 0 {
		p.rerank(ctx, resp.QueryEffective, merged, weights, &resp)
	}

	candidates := p.toCandidates(merged)
	candidates = p.filter(candidates, req, tmpl)
	sortCandidates(candidates)
	maxResults := tmpl.MaxResults
	if req.MaxResults > 0 {
		maxResults = req.MaxResults
	}
	if maxResults > 0 && len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	sessionSet := toSet(req.SessionMemoryIDs)
	for _, c := range candidates {
		resp.Results = append(resp.Results, Result{MemoryID: c.id, Score: c.score, SessionHit: sessionSet[c.id]})
	}

	metrics.SearchRequestsTotal.WithLabelValues(string(requestedMode), string(resp.ModeApplied)).Inc()
	for _, reason := range resp.DegradeReasons {
		metrics.SearchDegradedTotal.WithLabelValues(reason).Inc()
	}
	timer.ObserveDurationVec(metrics.SearchDuration, resp.Strategy)
	return resp
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var uriLike = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://\S+`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// preprocess trims, collapses whitespace, and strips URI-like sequences so
// they never pollute keyword/vector matching (spec.md §4.7 stage 1).
func preprocess(raw string) string {
	stripped := uriLike.ReplaceAllString(raw, " ")
	collapsed := whitespaceRun.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}

func normalizeScores(scores map[string]float64) {
	if len(scores) == 0 {
		return
	}
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return
	}
	for id, s := range scores {
		scores[id] = s / max
	}
}
