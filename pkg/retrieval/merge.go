package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/memorypalace/core/pkg/external"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/types"
)

// candidate is one merged-score entry carried through the remaining
// pipeline stages, enriched with the memory record needed for filtering
// and deterministic tie-breaking.
type candidate struct {
	id    string
	score float64
	mem   *types.Memory
}

// merge combines keyword and semantic scores per spec.md §4.7 stage 6.
func (p *Pipeline) merge(kw, sem map[string]float64, w Weights) map[string]float64 {
	merged := make(map[string]float64, len(kw)+len(sem))
	for id, s := range kw {
		merged[id] += w.KeywordWeight * s
	}
	for id, s := range sem {
		merged[id] += w.SemanticWeight * s
	}
	return merged
}

// seedSession folds a small ring of recent session memories into the
// candidate set with a fixed seeding boost, so they always surface
// alongside organically retrieved results (spec.md §4.7 "Session
// inclusion").
func (p *Pipeline) seedSession(merged map[string]float64, sessionIDs []string) {
	const seedBoost = 0.05
	for _, id := range sessionIDs {
		if _, ok := merged[id]; !ok {
			merged[id] = seedBoost
		}
	}
}

func (p *Pipeline) rerank(ctx context.Context, query string, merged map[string]float64, w Weights, resp *Response) {
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}

	rerankCandidates := make([]external.RerankCandidate, 0, len(ids))
	for _, id := range ids {
		mem, err := p.store.GetMemory(id)
		if err != nil {
			continue
		}
		rerankCandidates = append(rerankCandidates, external.RerankCandidate{MemoryID: id, Content: mem.Content})
	}
	if len(rerankCandidates) == 0 {
		return
	}

	scores, err := p.reranker.Rerank(ctx, query, rerankCandidates)
	if err != nil {
		log.WithComponent("retrieval").Warn().Err(err).Msg("rerank failed, using merge scores only")
		resp.DegradeReasons = append(resp.DegradeReasons, "reranker_request_failed")
		return
	}

	for _, s := range scores {
		merged[s.MemoryID] = merged[s.MemoryID]*(1-w.RerankWeight) + s.Score*w.RerankWeight
	}
}

func (p *Pipeline) toCandidates(merged map[string]float64) []candidate {
	out := make([]candidate, 0, len(merged))
	for id, score := range merged {
		mem, err := p.store.GetMemory(id)
		if err != nil {
			continue
		}
		out = append(out, candidate{id: id, score: score, mem: mem})
	}
	return out
}

// filter applies the strategy template's domain/path/priority/time-window
// filters and minimum-score cut (spec.md §4.7 stage 8).
func (p *Pipeline) filter(candidates []candidate, req Request, tmpl strategyTemplate) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.score < tmpl.MinScoreCut {
			continue
		}
		if req.MaxPriority != nil && c.mem.Priority > *req.MaxPriority {
			continue
		}
		if req.UpdatedAfter != nil && c.mem.UpdatedAt.Before(*req.UpdatedAfter) {
			continue
		}
		if tmpl.TimeWindow > 0 && time.Since(c.mem.UpdatedAt) > tmpl.TimeWindow {
			continue
		}
		if req.Domain != "" || req.PathPrefix != "" {
			if !p.matchesPathFilter(c.id, req.Domain, req.PathPrefix) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func (p *Pipeline) matchesPathFilter(memoryID, domain, prefix string) bool {
	paths, err := p.store.PathsForMemory(memoryID)
	if err != nil {
		return false
	}
	for _, path := range paths {
		if domain != "" && path.Domain != domain {
			continue
		}
		if prefix != "" && !strings.HasPrefix(path.Path, prefix) {
			continue
		}
		return true
	}
	return false
}

// sortCandidates orders by score descending; ties break by lower priority
// value, then more recent updated_at, then lower id (spec.md §4.7 stage 6).
func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].score != c[j].score {
			return c[i].score > c[j].score
		}
		if c[i].mem.Priority != c[j].mem.Priority {
			return c[i].mem.Priority < c[j].mem.Priority
		}
		if !c[i].mem.UpdatedAt.Equal(c[j].mem.UpdatedAt) {
			return c[i].mem.UpdatedAt.After(c[j].mem.UpdatedAt)
		}
		return c[i].id < c[j].id
	})
}
