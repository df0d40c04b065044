package governance

import (
	"context"
	"math"
	"sort"

	"github.com/memorypalace/core/pkg/types"
)

// DedupCandidate is one cluster of near-duplicate memories found by vector
// similarity, keyed by the highest-vitality member (the keeper).
type DedupCandidate struct {
	KeeperID    string
	DuplicateIDs []string
	Similarity  float64 // lowest similarity between the cluster's seed (its lowest id) and any other member
}

// RollupCandidate is a set of sibling fragments short enough, combined, to
// be worth merging into one memory under their shared parent path.
type RollupCandidate struct {
	ParentDomain string
	ParentPath   string
	MemberIDs    []string
	CombinedLen  int
}

// SleepPreview is the dry-run result of a consolidation pass.
type SleepPreview struct {
	Dedup  []DedupCandidate
	Rollup []RollupCandidate
}

// SleepApplyResult tallies what a consolidation apply pass actually did.
type SleepApplyResult struct {
	DedupApplied  int
	RollupApplied int
}

// PreviewSleepConsolidation computes dedup and rollup candidates without
// writing anything, per spec.md §4.8's preview-by-default rule.
func (l *Loop) PreviewSleepConsolidation() (SleepPreview, error) {
	dedup, err := l.findDedupCandidates()
	if err != nil {
		return SleepPreview{}, err
	}
	rollup, err := l.findRollupCandidates()
	if err != nil {
		return SleepPreview{}, err
	}
	return SleepPreview{Dedup: dedup, Rollup: rollup}, nil
}

// ApplySleepConsolidation runs the preview and, per the SleepDedupApply /
// SleepRollupApply flags, turns qualifying candidates into writes.
// Dedup keeps the highest-vitality member of a cluster and physically
// deletes the other members that no longer have any path; rollup creates
// one combined memory under the shared parent, records a "sleep_rollup"
// gist on it, and physically deletes the sources that no longer have any
// path. Members or sources that still have a path are left unchanged;
// nothing is marked deprecated here.
func (l *Loop) ApplySleepConsolidation(ctx context.Context) (SleepApplyResult, error) {
	preview, err := l.PreviewSleepConsolidation()
	if err != nil {
		return SleepApplyResult{}, err
	}

	result := SleepApplyResult{}

	if l.cfg.SleepDedupApply {
		for _, d := range preview.Dedup {
			for _, dupID := range d.DuplicateIDs {
				canDelete, err := l.store.CanDelete(dupID)
				if err != nil {
					return result, err
				}
				if !canDelete {
					continue
				}
				err = l.lane.Run(ctx, dupID, func() error {
					return l.store.PhysicallyDelete(dupID)
				})
				if err != nil {
					return result, err
				}
				result.DedupApplied++
			}
		}
	}

	if l.cfg.SleepRollupApply {
		for _, r := range preview.Rollup {
			if err := l.applyRollup(ctx, r); err != nil {
				return result, err
			}
			result.RollupApplied++
		}
	}

	return result, nil
}

func (l *Loop) findDedupCandidates() ([]DedupCandidate, error) {
	vectors := l.store.AllVectors()
	if len(vectors) < 2 {
		return nil, nil
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visited := make(map[string]bool, len(ids))
	var clusters []DedupCandidate

	for _, id := range ids {
		if visited[id] {
			continue
		}
		mem, err := l.store.GetMemory(id)
		if err != nil || mem.Deprecated {
			continue
		}

		members := []string{id}
		minSim := 1.0
		for _, other := range ids {
			if other == id || visited[other] {
				continue
			}
			otherMem, err := l.store.GetMemory(other)
			if err != nil || otherMem.Deprecated {
				continue
			}
			sim := cosine(vectors[id], vectors[other])
			if sim >= l.cfg.SleepDedupThreshold {
				members = append(members, other)
				if sim < minSim {
					minSim = sim
				}
			}
		}
		if len(members) < 2 {
			continue
		}

		keeper := members[0]
		keeperMem := mem
		for _, m := range members[1:] {
			cand, err := l.store.GetMemory(m)
			if err == nil && cand.VitalityScore > keeperMem.VitalityScore {
				keeper = m
				keeperMem = cand
			}
		}

		var dups []string
		for _, m := range members {
			visited[m] = true
			if m != keeper {
				dups = append(dups, m)
			}
		}
		if len(dups) == 0 {
			continue
		}
		sort.Strings(dups)
		clusters = append(clusters, DedupCandidate{KeeperID: keeper, DuplicateIDs: dups, Similarity: minSim})
	}

	return clusters, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// findRollupCandidates groups sibling memories under the same parent path
// whose combined content length stays under SleepRollupMaxChars.
func (l *Loop) findRollupCandidates() ([]RollupCandidate, error) {
	memories, err := l.store.ListAllMemories()
	if err != nil {
		return nil, err
	}

	type group struct {
		domain, parent string
	}
	byParent := make(map[group][]types.Memory)

	for _, m := range memories {
		if m.Deprecated {
			continue
		}
		paths, err := l.store.PathsForMemory(m.ID)
		if err != nil {
			continue
		}
		for _, p := range paths {
			if p.Alias {
				continue
			}
			parent := parentOf(p.Path)
			if parent == "" {
				continue
			}
			key := group{domain: p.Domain, parent: parent}
			byParent[key] = append(byParent[key], m)
		}
	}

	var candidates []RollupCandidate
	for key, members := range byParent {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		total := 0
		ids := make([]string, 0, len(members))
		for _, m := range members {
			total += len(m.Content)
			ids = append(ids, m.ID)
		}
		if total > l.cfg.SleepRollupMaxChars {
			continue
		}
		candidates = append(candidates, RollupCandidate{ParentDomain: key.domain, ParentPath: key.parent, MemberIDs: ids, CombinedLen: total})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ParentPath < candidates[j].ParentPath })
	return candidates, nil
}

func parentOf(path string) string {
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

func (l *Loop) applyRollup(ctx context.Context, r RollupCandidate) error {
	combined := ""
	for i, id := range r.MemberIDs {
		mem, err := l.store.GetMemory(id)
		if err != nil {
			return err
		}
		if i > 0 {
			combined += "\n\n"
		}
		combined += mem.Content
	}

	var rolled *types.Memory
	err := l.lane.Run(ctx, r.ParentPath, func() error {
		m, _, err := l.store.Create(r.ParentDomain, r.ParentPath, combined, 0, "", "")
		rolled = m
		return err
	})
	if err != nil {
		return err
	}

	if err := l.store.UpsertGist(types.Gist{
		MemoryID:   rolled.ID,
		GistText:   combined,
		GistMethod: "sleep_rollup",
		Quality:    1.0,
	}); err != nil {
		return err
	}

	for _, id := range r.MemberIDs {
		canDelete, err := l.store.CanDelete(id)
		if err != nil {
			return err
		}
		if !canDelete {
			continue
		}
		if err := l.lane.Run(ctx, id, func() error {
			return l.store.PhysicallyDelete(id)
		}); err != nil {
			return err
		}
	}
	return nil
}
