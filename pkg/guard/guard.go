// Package guard implements the Write Guard: a pure decision function run
// before every content-affecting write, classifying a proposal against
// existing memories via a tiered ladder (semantic, then keyword, then
// optional LLM arbitration) before falling back to ADD. It is modeled on
// the teacher's FSM.Apply single-decision-per-call shape (see
// pkg/manager/fsm.go in the teacher repo this was adapted from) but the
// guard never mutates state — it only classifies.
package guard

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/memorypalace/core/pkg/log"
)

// Action is the guard's verdict.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionUpdate Action = "UPDATE"
	ActionNoop   Action = "NOOP"
	ActionDelete Action = "DELETE"
	ActionBypass Action = "BYPASS"
)

// Method names which signal produced the verdict.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodKeyword   Method = "keyword"
	MethodLLM       Method = "llm"
	MethodBypass    Method = "bypass"
	MethodFallback  Method = "fallback"
)

// Candidate is an existing memory the guard compares a proposal against.
type Candidate struct {
	MemoryID string
	Content  string
	Vector   []float64
}

// Decision is the guard's verdict for a proposed write.
type Decision struct {
	Action        Action
	TargetID      string
	Method        Method
	Reason        string
	Confidence    float64
	DegradeReason string // set on the final ADD fallback when no embedder is configured; embedding or LLM call failures are logged, not reported here
}

// Embedder produces a dense embedding for a piece of text. Implementations
// live in pkg/external; guard only depends on this narrow interface so it
// can be tested without any network access.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Classifier performs bounded LLM arbitration between a proposal and a
// shortlist of candidates.
type Classifier interface {
	Classify(ctx context.Context, proposal string, candidates []Candidate) (Decision, error)
}

// Thresholds holds the tunable ladder cutoffs (spec.md §4.3 / config.go).
type Thresholds struct {
	SemNoopThreshold    float64
	SemUpdateLow        float64
	KwNoopThreshold     float64
	KwUpdateThreshold   float64
	LLMConsultThreshold float64
	LLMEnabled          bool
	TopK                int
}

// Guard is the decision-ladder evaluator.
type Guard struct {
	thresholds Thresholds
	embedder   Embedder // nil disables the semantic tier
	classifier Classifier
}

// New builds a Guard. embedder and classifier may be nil, in which case
// their ladder tiers are skipped (the keyword tier always runs).
func New(t Thresholds, embedder Embedder, classifier Classifier) *Guard {
	if t.TopK <= 0 {
		t.TopK = 5
	}
	return &Guard{thresholds: t, embedder: embedder, classifier: classifier}
}

// Evaluate runs the decision ladder for a content-affecting write.
// metaOnly short-circuits to BYPASS per spec.md §4.3; it never invokes any
// tier. Evaluate never mutates the store; candidates is the current view
// the caller (Write Lane) took under its snapshot.
func (g *Guard) Evaluate(ctx context.Context, proposal string, candidates []Candidate, metaOnly bool) Decision {
	if metaOnly {
		return Decision{Action: ActionBypass, Method: MethodBypass, Reason: "metadata-only update", Confidence: 1}
	}
	if len(candidates) == 0 {
		return Decision{Action: ActionAdd, Method: MethodFallback, Reason: "no existing memories to compare against", Confidence: 1}
	}

	if g.embedder != nil {
		if d, ok := g.semanticTier(ctx, proposal, candidates); ok {
			return d
		}
	}

	kwDecision, kwOK, kwBestScore := g.keywordTier(proposal, candidates)
	if kwOK {
		return kwDecision
	}

	if g.thresholds.LLMEnabled && g.classifier != nil {
		if d, ok := g.llmTier(ctx, proposal, candidates, kwBestScore); ok {
			return d
		}
	}

	degrade := ""
	if g.embedder == nil {
		degrade = "embedding adapter unavailable, used keyword tier only"
	}
	return Decision{Action: ActionAdd, Method: MethodFallback, Reason: "no tier produced a definitive verdict", Confidence: 0.5, DegradeReason: degrade}
}

func (g *Guard) semanticTier(ctx context.Context, proposal string, candidates []Candidate) (Decision, bool) {
	vec, err := g.embedder.Embed(ctx, proposal)
	if err != nil {
		log.WithComponent("guard").Warn().Err(err).Msg("embedding failed, degrading to keyword tier")
		return Decision{}, false
	}

	type scored struct {
		Candidate
		sim float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		ranked = append(ranked, scored{c, cosine(vec, c.Vector)})
	}
	if len(ranked) == 0 {
		return Decision{}, false
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if len(ranked) > g.thresholds.TopK {
		ranked = ranked[:g.thresholds.TopK]
	}

	best := ranked[0]
	if best.sim >= g.thresholds.SemNoopThreshold {
		return Decision{Action: ActionNoop, TargetID: best.MemoryID, Method: MethodEmbedding,
			Reason: "semantic similarity above noop threshold", Confidence: best.sim}, true
	}
	if best.sim >= g.thresholds.SemUpdateLow && supersedes(proposal, best.Content) {
		return Decision{Action: ActionUpdate, TargetID: best.MemoryID, Method: MethodEmbedding,
			Reason: "semantic similarity in update band and proposal supersedes target", Confidence: best.sim}, true
	}
	return Decision{}, false
}

func (g *Guard) keywordTier(proposal string, candidates []Candidate) (Decision, bool, float64) {
	propTokens := tokenSet(proposal)

	best := Candidate{}
	bestScore := -1.0
	for _, c := range candidates {
		score := jaccard(propTokens, tokenSet(c.Content))
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < 0 {
		return Decision{}, false, 0
	}

	if bestScore >= g.thresholds.KwNoopThreshold {
		return Decision{Action: ActionNoop, TargetID: best.MemoryID, Method: MethodKeyword,
			Reason: "keyword overlap above noop threshold", Confidence: bestScore}, true, bestScore
	}
	if bestScore >= g.thresholds.KwUpdateThreshold && supersedes(proposal, best.Content) {
		return Decision{Action: ActionUpdate, TargetID: best.MemoryID, Method: MethodKeyword,
			Reason: "keyword overlap in update band and proposal supersedes target", Confidence: bestScore}, true, bestScore
	}
	return Decision{}, false, bestScore
}

func (g *Guard) llmTier(ctx context.Context, proposal string, candidates []Candidate, kwBestScore float64) (Decision, bool) {
	if kwBestScore < g.thresholds.LLMConsultThreshold {
		return Decision{}, false
	}

	d, err := g.classifier.Classify(ctx, proposal, candidates)
	if err != nil {
		log.WithComponent("guard").Warn().Err(err).Msg("llm arbitration failed, falling back to ADD")
		return Decision{}, false
	}
	d.Method = MethodLLM
	return d, true
}

// supersedes is the heuristic from spec.md §4.3: a proposal supersedes a
// candidate if it is noticeably longer or shares most of its tokens.
func supersedes(proposal, existing string) bool {
	if len(existing) == 0 {
		return true
	}
	if float64(len(proposal)) > float64(len(existing))*1.2 {
		return true
	}
	return jaccard(tokenSet(proposal), tokenSet(existing)) >= 0.6
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		set[f] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
