// Package tools implements the nine memory-core tool operations
// (read_memory, create_memory, update_memory, delete_memory, add_alias,
// search_memory, compact_context, rebuild_index, index_status) as plain
// Go methods over a *core.Core. This is the layer the MCP tool surface and
// the HTTP control plane both call into; neither owns any business logic
// of its own. Grounded on the teacher's pkg/manager methods being the
// single place request validation, mutation and event emission meet.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/memorypalace/core/pkg/core"
	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/events"
	"github.com/memorypalace/core/pkg/guard"
	"github.com/memorypalace/core/pkg/indexworker"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/resolver"
	"github.com/memorypalace/core/pkg/retrieval"
	"github.com/memorypalace/core/pkg/types"
)

// Tools wraps a Core with the nine tool operations.
type Tools struct {
	c *core.Core
}

// New builds a Tools over c.
func New(c *core.Core) *Tools {
	return &Tools{c: c}
}

// candidateTopK is the keyword/vector fan-in width used to build the
// write guard's comparison set per proposal.
const candidateTopK = 20

// gatherCandidates builds the guard's comparison set: the keyword top-K
// plus, if an embedder is configured, the vector top-K for the proposal,
// unioned and deduped, each hydrated with its stored content and vector.
func (t *Tools) gatherCandidates(ctx context.Context, proposal string, exclude string) []guard.Candidate {
	ids := map[string]bool{}
	for _, r := range t.c.Store.Keyword(proposal, candidateTopK) {
		ids[r.MemoryID] = true
	}
	if t.c.Embedder != nil {
		if vec, err := t.c.Embedder.Embed(ctx, proposal); err == nil {
			for _, r := range t.c.Store.Vector(vec, candidateTopK) {
				ids[r.MemoryID] = true
			}
		}
	}
	delete(ids, exclude)

	vectors := t.c.Store.AllVectors()
	out := make([]guard.Candidate, 0, len(ids))
	for id := range ids {
		mem, err := t.c.Store.GetMemory(id)
		if err != nil || mem.Deprecated {
			continue
		}
		out = append(out, guard.Candidate{MemoryID: id, Content: mem.Content, Vector: vectors[id]})
	}
	return out
}

func guardResult(d guard.Decision, targetURI string) GuardResult {
	return GuardResult{
		Action:        string(d.Action),
		Method:        string(d.Method),
		Reason:        d.Reason,
		Confidence:    d.Confidence,
		TargetURI:     targetURI,
		DegradeReason: d.DegradeReason,
	}
}

func (t *Tools) uriFor(memoryID string) string {
	paths, err := t.c.Store.PathsForMemory(memoryID)
	if err != nil || len(paths) == 0 {
		return ""
	}
	sort.Slice(paths, func(i, j int) bool { return !paths[i].Alias && paths[j].Alias })
	return paths[0].Address()
}

// GuardResult is the write guard's verdict surfaced to a tool caller.
type GuardResult struct {
	Action        string  `json:"action"`
	Method        string  `json:"method"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
	TargetURI     string  `json:"target_uri,omitempty"`
	DegradeReason string  `json:"degrade_reason,omitempty"`
}

// EnqueueStats reports what happened when a write queued a reindex job.
type EnqueueStats struct {
	JobID   string `json:"job_id,omitempty"`
	Queued  bool   `json:"queued"`
	Deduped bool   `json:"deduped"`
	Dropped bool   `json:"dropped"`
}

func fromEnqueue(r indexworker.EnqueueResult) EnqueueStats {
	return EnqueueStats{JobID: r.JobID, Queued: r.Queued, Deduped: r.Deduped, Dropped: r.Dropped}
}

// ---- read_memory ----

// ReadMemoryRequest is one read_memory call. Exactly one of ChunkID,
// Range or MaxChars may be set; all empty means "return the full
// content".
type ReadMemoryRequest struct {
	Address  string
	SessionID string
	ChunkID  *int
	Range    *string // "start:end" byte offsets
	MaxChars *int
}

// ReadMemoryResult is what read_memory returns.
type ReadMemoryResult struct {
	Address   string             `json:"address"`
	Content   string             `json:"content"`
	Truncated bool               `json:"truncated"`
	Memory    *types.Memory      `json:"memory,omitempty"`
	System    *resolver.SystemResult `json:"system,omitempty"`
}

// ReadMemory resolves an address (including synthetic system:// ones) and
// applies at most one of chunk_id / range / max_chars slicing.
func (t *Tools) ReadMemory(ctx context.Context, req ReadMemoryRequest) (ReadMemoryResult, error) {
	set := 0
	if req.ChunkID != nil {
		set++
	}
	if req.Range != nil {
		set++
	}
	if req.MaxChars != nil {
		set++
	}
	if set > 1 {
		return ReadMemoryResult{}, errs.New(errs.InvalidRequest, "read_memory accepts at most one of chunk_id, range, max_chars")
	}

	addr, err := t.c.Resolver.Parse(req.Address)
	if err != nil {
		return ReadMemoryResult{}, err
	}
	if addr.Domain == "system" {
		sys, err := t.c.Resolver.SystemQuery(addr)
		if err != nil {
			return ReadMemoryResult{}, err
		}
		return ReadMemoryResult{Address: req.Address, System: &sys}, nil
	}

	mem, err := t.c.Resolver.Resolve(addr)
	if err != nil {
		return ReadMemoryResult{}, err
	}
	if err := t.c.Store.SetVitality(mem.ID, minFloat(mem.VitalityScore+t.c.Config.ReinforceDelta, t.c.Config.VitalityMax), true); err == nil {
		mem.AccessCount++
	}

	content, truncated := sliceContent(mem.Content, req, t.c.Config.ChunkSize)
	return ReadMemoryResult{Address: req.Address, Content: content, Truncated: truncated, Memory: mem}, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func sliceContent(content string, req ReadMemoryRequest, chunkSize int) (string, bool) {
	switch {
	case req.ChunkID != nil:
		if chunkSize <= 0 {
			chunkSize = 1200
		}
		start := *req.ChunkID * chunkSize
		if start < 0 || start >= len(content) {
			return "", false
		}
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		}
		return content[start:end], end < len(content)
	case req.Range != nil:
		start, end, ok := parseRange(*req.Range, len(content))
		if !ok {
			return content, false
		}
		return content[start:end], end < len(content)
	case req.MaxChars != nil:
		max := *req.MaxChars
		if max < 1 {
			max = 1
		}
		if max >= len(content) {
			return content, false
		}
		return content[:max], true
	default:
		return content, false
	}
}

func parseRange(spec string, length int) (int, int, bool) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, length, false
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start < 0 || end > length || start > end {
		return 0, length, false
	}
	return start, end, true
}

// ---- create_memory ----

type CreateMemoryRequest struct {
	SessionID      string
	ParentAddress  string
	Content        string
	Priority       int
	Title          string
	Disclosure     string
}

type CreateMemoryResult struct {
	Created bool         `json:"created"`
	URI     string       `json:"uri"`
	Guard   GuardResult  `json:"guard"`
	Enqueue EnqueueStats `json:"enqueue"`
}

// CreateMemory runs the proposal through the write guard before deciding
// whether to actually create a new memory, append into an existing one
// (ActionUpdate), or skip entirely (ActionNoop).
func (t *Tools) CreateMemory(ctx context.Context, req CreateMemoryRequest) (CreateMemoryResult, error) {
	parentAddr, err := t.c.Resolver.Parse(req.ParentAddress)
	if err != nil {
		return CreateMemoryResult{}, err
	}
	if parentAddr.Domain == "system" {
		return CreateMemoryResult{}, errs.New(errs.InvalidDomain, "cannot create memories under system://")
	}

	// Guard evaluation runs inside the Lane, keyed by parent+title, so two
	// concurrent proposals for the same spot serialize before either one
	// decides NOOP/UPDATE/ADD (spec.md §4.4: Guard runs under the lane
	// token, not before it).
	recordKey := parentAddr.String() + "/" + req.Title

	var decision guard.Decision
	var mem *types.Memory
	var addr types.Address
	var enqueue EnqueueStats
	var created bool

	err = t.c.Lane.Run(ctx, recordKey, func() error {
		candidates := t.gatherCandidates(ctx, req.Content, "")
		decision = t.c.Guard.Evaluate(ctx, req.Content, candidates, false)
		t.c.Events.Emit(events.EventGuardDecision, decision.TargetID, string(decision.Action)+": "+decision.Reason)

		switch decision.Action {
		case guard.ActionNoop:
			return nil

		case guard.ActionUpdate:
			pre, err := t.c.Store.RawMemoryJSON(decision.TargetID)
			if err != nil {
				return err
			}
			if err := t.c.Ledger.Capture(req.SessionID, decision.TargetID, types.ResourceMemory, types.OpModifyContent, pre); err != nil {
				return err
			}
			if _, err := t.c.Store.UpdateAppend(decision.TargetID, "\n"+req.Content); err != nil {
				if derr := t.c.Ledger.Discard(req.SessionID, decision.TargetID); derr != nil {
					log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed update")
				}
				return err
			}
			enqueue = fromEnqueue(t.c.IndexWorker.Enqueue(types.TaskReindexMemory, decision.TargetID, "create_memory_routed_to_update"))
			return nil

		default: // ActionAdd (and any unexpected verdict, which falls back to add)
			var err error
			mem, addr, err = t.c.Store.Create(parentAddr.Domain, parentAddr.Path, req.Content, req.Priority, req.Title, req.Disclosure)
			if err != nil {
				return err
			}
			if err := t.c.Store.SetVitality(mem.ID, t.c.Config.VitalityMax, false); err != nil {
				log.WithComponent("tools").Warn().Err(err).Msg("failed to set initial vitality")
			}
			if pre, err := t.c.Store.RawMemoryJSON(mem.ID); err == nil {
				if err := t.c.Ledger.Capture(req.SessionID, mem.ID, types.ResourceMemory, types.OpCreate, pre); err != nil {
					log.WithComponent("tools").Warn().Err(err).Msg("failed to persist create snapshot")
				}
			}
			enqueue = fromEnqueue(t.c.IndexWorker.Enqueue(types.TaskReindexMemory, mem.ID, "new memory created"))
			created = true
			return nil
		}
	})
	if err != nil {
		return CreateMemoryResult{}, err
	}

	result := CreateMemoryResult{Guard: guardResult(decision, "")}
	switch decision.Action {
	case guard.ActionNoop:
		result.URI = t.uriFor(decision.TargetID)
		result.Guard.TargetURI = result.URI
		return result, nil

	case guard.ActionUpdate:
		t.c.Events.Emit(events.EventMemoryUpdated, decision.TargetID, "appended via create_memory guard routing")
		result.URI = t.uriFor(decision.TargetID)
		result.Guard.TargetURI = result.URI
		result.Enqueue = enqueue
		return result, nil

	default:
		t.c.Events.Emit(events.EventMemoryCreated, mem.ID, "created at "+addr.String())
		result.Created = created
		result.URI = addr.String()
		result.Enqueue = enqueue
		return result, nil
	}
}

// ---- update_memory ----

type UpdateMemoryRequest struct {
	SessionID  string
	Address    string
	Old        *string
	New        *string
	Append     *string
	Priority   *int
	Disclosure *string
}

type UpdateMemoryResult struct {
	Updated bool         `json:"updated"`
	Guard   GuardResult  `json:"guard"`
	Enqueue EnqueueStats `json:"enqueue"`
}

// UpdateMemory applies exactly one content-changing form (patch via
// old/new, or append) or a metadata-only change. Metadata-only updates
// bypass the write guard entirely (spec.md §4.3); content changes still
// run the guard for audit purposes, but its verdict never blocks the
// caller's explicit instruction.
func (t *Tools) UpdateMemory(ctx context.Context, req UpdateMemoryRequest) (UpdateMemoryResult, error) {
	isPatch := req.Old != nil || req.New != nil
	isAppend := req.Append != nil
	isMeta := req.Priority != nil || req.Disclosure != nil

	if isPatch && (req.Old == nil || req.New == nil) {
		return UpdateMemoryResult{}, errs.New(errs.InvalidRequest, "patch requires both old and new")
	}
	formCount := 0
	if isPatch {
		formCount++
	}
	if isAppend {
		formCount++
	}
	if isMeta {
		formCount++
	}
	if formCount != 1 {
		return UpdateMemoryResult{}, errs.New(errs.InvalidRequest, "update_memory requires exactly one of patch, append, or meta fields")
	}

	addr, err := t.c.Resolver.Parse(req.Address)
	if err != nil {
		return UpdateMemoryResult{}, err
	}
	mem, err := t.c.Resolver.Resolve(addr)
	if err != nil {
		return UpdateMemoryResult{}, err
	}

	result := UpdateMemoryResult{}
	var enqueue EnqueueStats

	if isMeta {
		decision := t.c.Guard.Evaluate(ctx, mem.Content, nil, true)
		result.Guard = guardResult(decision, addr.String())
		err := t.c.Lane.Run(ctx, mem.ID, func() error {
			pre, err := t.c.Store.RawMemoryJSON(mem.ID)
			if err != nil {
				return err
			}
			if err := t.c.Ledger.Capture(req.SessionID, mem.ID, types.ResourceMemory, types.OpModifyMeta, pre); err != nil {
				return err
			}
			if _, err := t.c.Store.UpdateMeta(mem.ID, req.Priority, req.Disclosure); err != nil {
				if derr := t.c.Ledger.Discard(req.SessionID, mem.ID); derr != nil {
					log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed meta update")
				}
				return err
			}
			return nil
		})
		if err != nil {
			return UpdateMemoryResult{}, err
		}
		t.c.Events.Emit(events.EventMemoryUpdated, mem.ID, "metadata updated")
		result.Updated = true
		return result, nil
	}

	proposal := mem.Content
	if isAppend {
		proposal = mem.Content + *req.Append
	} else {
		proposal = strings.Replace(mem.Content, *req.Old, *req.New, 1)
	}

	// Guard evaluation and candidate gathering run inside the Lane, keyed
	// by mem.ID, so the guard's audit decision is computed under the same
	// serialized view the store mutate sees (spec.md §4.4).
	var decision guard.Decision
	err = t.c.Lane.Run(ctx, mem.ID, func() error {
		candidates := t.gatherCandidates(ctx, proposal, mem.ID)
		decision = t.c.Guard.Evaluate(ctx, proposal, candidates, false)
		t.c.Events.Emit(events.EventGuardDecision, mem.ID, string(decision.Action)+": "+decision.Reason)

		pre, err := t.c.Store.RawMemoryJSON(mem.ID)
		if err != nil {
			return err
		}
		if err := t.c.Ledger.Capture(req.SessionID, mem.ID, types.ResourceMemory, types.OpModifyContent, pre); err != nil {
			return err
		}

		var opErr error
		if isAppend {
			_, opErr = t.c.Store.UpdateAppend(mem.ID, *req.Append)
		} else {
			_, opErr = t.c.Store.UpdatePatch(mem.ID, *req.Old, *req.New)
		}
		if opErr != nil {
			if derr := t.c.Ledger.Discard(req.SessionID, mem.ID); derr != nil {
				log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed content update")
			}
			return opErr
		}
		enqueue = fromEnqueue(t.c.IndexWorker.Enqueue(types.TaskReindexMemory, mem.ID, "content updated"))
		return nil
	})
	if err != nil {
		return UpdateMemoryResult{}, err
	}
	result.Guard = guardResult(decision, addr.String())
	t.c.Events.Emit(events.EventMemoryUpdated, mem.ID, "content updated")
	result.Updated = true
	result.Enqueue = enqueue
	return result, nil
}

// ---- delete_memory ----

type DeleteMemoryRequest struct {
	SessionID string
	Address   string
}

type DeleteMemoryResult struct {
	Deleted        bool     `json:"deleted"`
	SurvivingPaths []string `json:"surviving_paths"`
}

func (t *Tools) DeleteMemory(ctx context.Context, req DeleteMemoryRequest) (DeleteMemoryResult, error) {
	addr, err := t.c.Resolver.Parse(req.Address)
	if err != nil {
		return DeleteMemoryResult{}, err
	}
	mem, err := t.c.Resolver.Resolve(addr)
	if err != nil {
		return DeleteMemoryResult{}, err
	}

	var surviving []string
	var deprecated bool
	err = t.c.Lane.Run(ctx, req.Address, func() error {
		pre, err := t.c.Store.RawMemoryJSON(mem.ID)
		if err != nil {
			return err
		}
		if err := t.c.Ledger.Capture(req.SessionID, mem.ID, types.ResourcePath, types.OpDelete, pre); err != nil {
			return err
		}
		surviving, deprecated, err = t.c.Store.Delete(addr)
		if err != nil {
			if derr := t.c.Ledger.Discard(req.SessionID, mem.ID); derr != nil {
				log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed delete")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return DeleteMemoryResult{}, err
	}
	if deprecated {
		t.c.Events.Emit(events.EventMemoryDeprecated, mem.ID, "last surviving path removed")
	} else {
		t.c.Events.Emit(events.EventMemoryDeleted, mem.ID, "path removed: "+req.Address)
	}
	return DeleteMemoryResult{Deleted: true, SurvivingPaths: surviving}, nil
}

// ---- add_alias ----

type AddAliasRequest struct {
	NewAddress    string
	TargetAddress string
	Priority      int
	Disclosure    string
}

type AddAliasResult struct {
	CreatedAlias bool        `json:"created_alias"`
	MemoryID     string      `json:"memory_id"`
	Guard        GuardResult `json:"guard"`
}

// AddAlias does not run the write guard: it always reports an ADD verdict
// with method bypass, since the alias path itself is new data even though
// it points at existing content. A target that does not resolve is
// rejected by the store.
func (t *Tools) AddAlias(ctx context.Context, req AddAliasRequest) (AddAliasResult, error) {
	newAddr, err := t.c.Resolver.Parse(req.NewAddress)
	if err != nil {
		return AddAliasResult{}, err
	}
	targetAddr, err := t.c.Resolver.Parse(req.TargetAddress)
	if err != nil {
		return AddAliasResult{}, err
	}

	decision := guard.Decision{Action: guard.ActionAdd, Method: guard.MethodBypass, Reason: "alias path is new data even though it targets existing content", Confidence: 1}

	var mem *types.Memory
	err = t.c.Lane.Run(ctx, req.NewAddress, func() error {
		var err error
		mem, err = t.c.Store.AddAlias(newAddr, targetAddr, req.Priority, req.Disclosure)
		return err
	})
	if err != nil {
		return AddAliasResult{}, err
	}
	t.c.Events.Emit(events.EventGuardDecision, mem.ID, "ADD: "+decision.Reason)
	t.c.Events.Emit(events.EventAliasCreated, mem.ID, req.NewAddress+" -> "+req.TargetAddress)
	return AddAliasResult{CreatedAlias: true, MemoryID: mem.ID, Guard: guardResult(decision, req.TargetAddress)}, nil
}

// ---- search_memory ----

type SearchMemoryRequest struct {
	Query               string
	ModeRequested        string
	MaxResults           int
	CandidateMultiplier  int
	IncludeSession       bool
	SessionMemoryIDs     []string
	Domain               string
	PathPrefix           string
	MaxPriority          *int
	UpdatedAfter         *time.Time
}

type SearchMemoryResult struct {
	OK              bool              `json:"ok"`
	Query           string            `json:"query"`
	QueryEffective  string            `json:"query_effective"`
	ModeRequested   string            `json:"mode_requested"`
	ModeApplied     string            `json:"mode_applied"`
	Intent          string            `json:"intent"`
	StrategyTemplate string           `json:"strategy_template"`
	Results         []SearchResultItem `json:"results"`
	Counts          SearchCounts      `json:"counts"`
	DegradeReasons  []string          `json:"degrade_reasons,omitempty"`
	Degraded        bool              `json:"degraded"`
}

type SearchResultItem struct {
	MemoryID   string  `json:"memory_id"`
	URI        string  `json:"uri"`
	Score      float64 `json:"score"`
	SessionHit bool    `json:"session_hit"`
}

type SearchCounts struct {
	Session  int `json:"session"`
	Global   int `json:"global"`
	Returned int `json:"returned"`
}

func (t *Tools) SearchMemory(ctx context.Context, req SearchMemoryRequest) (SearchMemoryResult, error) {
	pipelineReq := retrieval.Request{
		RawQuery:            req.Query,
		Mode:                retrieval.Mode(req.ModeRequested),
		IncludeSession:      req.IncludeSession,
		SessionMemoryIDs:    req.SessionMemoryIDs,
		Domain:              req.Domain,
		PathPrefix:          req.PathPrefix,
		MaxPriority:         req.MaxPriority,
		UpdatedAfter:        req.UpdatedAfter,
		MaxResults:          req.MaxResults,
		CandidateMultiplier: req.CandidateMultiplier,
	}
	resp := t.c.Pipeline.Search(ctx, pipelineReq)

	out := SearchMemoryResult{
		OK:               true,
		Query:            req.Query,
		QueryEffective:   resp.QueryEffective,
		ModeRequested:    req.ModeRequested,
		ModeApplied:      string(resp.ModeApplied),
		Intent:           string(resp.Intent),
		StrategyTemplate: resp.Strategy,
		DegradeReasons:   resp.DegradeReasons,
		Degraded:         len(resp.DegradeReasons) > 0,
	}
	sessionCount := 0
	for _, r := range resp.Results {
		if r.SessionHit {
			sessionCount++
		}
		out.Results = append(out.Results, SearchResultItem{
			MemoryID:   r.MemoryID,
			URI:        t.uriFor(r.MemoryID),
			Score:      r.Score,
			SessionHit: r.SessionHit,
		})
	}
	out.Counts = SearchCounts{Session: sessionCount, Global: len(resp.Results) - sessionCount, Returned: len(resp.Results)}
	return out, nil
}

// ---- compact_context ----

type CompactContextRequest struct {
	SessionID string
	Content   string
	ReasonTag string
	Force     bool
	MaxLines  int
}

type CompactContextResult struct {
	OK             bool         `json:"ok"`
	SessionID      string       `json:"session_id"`
	Flushed        bool         `json:"flushed"`
	GistMethod     string       `json:"gist_method"`
	Quality        float64      `json:"quality"`
	SourceHash     string       `json:"source_hash"`
	Enqueue        EnqueueStats `json:"enqueue,omitempty"`
	DegradeReasons []string     `json:"degrade_reasons,omitempty"`
}

// CompactContext summarizes session content into a gist, persisting it as
// a memory so later search_memory calls can surface it. It prefers the
// configured Summarizer and falls back to a local extractive summary
// (first MaxLines non-empty lines) when none is configured or the remote
// call fails.
func (t *Tools) CompactContext(ctx context.Context, req CompactContextRequest) (CompactContextResult, error) {
	if req.MaxLines < 3 {
		req.MaxLines = 3
	}
	if strings.TrimSpace(req.Content) == "" {
		return CompactContextResult{}, errs.New(errs.InvalidRequest, "compact_context requires non-empty content")
	}

	var degrade []string
	gistText := ""
	quality := 0.0
	method := "extractive_v1"

	if t.c.Summarizer != nil {
		result, err := t.c.Summarizer.Summarize(ctx, req.Content, req.MaxLines)
		if err != nil {
			log.WithComponent("tools").Warn().Err(err).Msg("gist summarizer failed, falling back to extractive summary")
			degrade = append(degrade, "compact_gist_llm_empty")
		} else {
			gistText = result.Text
			quality = result.Quality
			method = "llm_summary_v1"
		}
	} else {
		degrade = append(degrade, "compact_gist_llm_unavailable")
	}

	if gistText == "" {
		gistText = extractiveSummary(req.Content, req.MaxLines)
		quality = 0.4
		method = "extractive_v1"
	}

	hash := contentHashHex(req.Content)

	addr := types.Address{Domain: "agent", Path: "sessions/" + req.SessionID + "/compact/" + req.ReasonTag}
	var memID string
	var enqueue EnqueueStats
	existing, _ := t.c.Store.ResolvePath(addr)

	if !req.Force && existing != nil {
		if prior, err := t.c.Store.GetGist(existing.MemoryID); err == nil && prior != nil && prior.SourceContentHash == hash {
			return CompactContextResult{
				OK: true, SessionID: req.SessionID, Flushed: false,
				GistMethod: prior.GistMethod, Quality: prior.Quality, SourceHash: hash,
			}, nil
		}
	}

	err := t.c.Lane.Run(ctx, addr.String(), func() error {
		if existing != nil {
			memID = existing.MemoryID
			pre, err := t.c.Store.RawMemoryJSON(memID)
			if err != nil {
				return err
			}
			if err := t.c.Ledger.Capture(req.SessionID, memID, types.ResourceMemory, types.OpModifyContent, pre); err != nil {
				return err
			}
			current, err := t.c.Store.GetMemory(memID)
			if err != nil {
				if derr := t.c.Ledger.Discard(req.SessionID, memID); derr != nil {
					log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed gist lookup")
				}
				return err
			}
			if current.Content != gistText {
				if _, err := t.c.Store.UpdatePatch(memID, current.Content, gistText); err != nil {
					if derr := t.c.Ledger.Discard(req.SessionID, memID); derr != nil {
						log.WithComponent("tools").Warn().Err(derr).Msg("failed to discard snapshot after failed gist update")
					}
					return err
				}
			}
		} else {
			mem, _, err := t.c.Store.Create(addr.Domain, "sessions/"+req.SessionID+"/compact", gistText, 0, req.ReasonTag, "")
			if err != nil {
				return err
			}
			memID = mem.ID
			if err := t.c.Store.SetVitality(memID, t.c.Config.VitalityMax, false); err != nil {
				log.WithComponent("tools").Warn().Err(err).Msg("failed to set initial vitality")
			}
		}
		if err := t.c.Store.UpsertGist(types.Gist{
			MemoryID:          memID,
			SourceContentHash: hash,
			GistText:          gistText,
			GistMethod:        method,
			Quality:           quality,
		}); err != nil {
			return err
		}
		enqueue = fromEnqueue(t.c.IndexWorker.Enqueue(types.TaskReindexMemory, memID, "compact_context"))
		return nil
	})
	if err != nil {
		return CompactContextResult{}, err
	}

	t.c.Events.Emit(events.EventMemoryUpdated, memID, "compact_context gist upserted ("+method+")")
	return CompactContextResult{
		OK:             true,
		SessionID:      req.SessionID,
		Flushed:        true,
		GistMethod:     method,
		Quality:        quality,
		SourceHash:     hash,
		Enqueue:        enqueue,
		DegradeReasons: degrade,
	}, nil
}

func extractiveSummary(content string, maxLines int) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
		if len(lines) >= maxLines {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func contentHashHex(content string) string {
	const fnvOffset = 14695981039346656037
	const fnvPrime = 1099511628211
	var h uint64 = fnvOffset
	for i := 0; i < len(content); i++ {
		h ^= uint64(content[i])
		h *= fnvPrime
	}
	return fmt.Sprintf("%016x", h)
}

// ---- rebuild_index / index_status ----

type RebuildIndexRequest struct {
	MemoryID           string
	Reason             string
	Wait               bool
	Timeout            time.Duration
	SleepConsolidation bool
}

type RebuildIndexResult struct {
	JobID       string       `json:"job_id,omitempty"`
	Enqueue     EnqueueStats `json:"enqueue"`
	WaitTimeout bool         `json:"wait_timeout,omitempty"`
	Status      string       `json:"status,omitempty"`
}

func (t *Tools) RebuildIndex(ctx context.Context, req RebuildIndexRequest) (RebuildIndexResult, error) {
	if req.SleepConsolidation && req.MemoryID != "" {
		return RebuildIndexResult{}, errs.New(errs.InvalidRequest, "sleep_consolidation and memory_id are mutually exclusive")
	}

	taskType := types.TaskRebuildIndex
	if req.MemoryID != "" {
		taskType = types.TaskReindexMemory
	}
	if req.SleepConsolidation {
		taskType = types.TaskSleepConsolidation
	}

	result := t.c.IndexWorker.Enqueue(taskType, req.MemoryID, req.Reason)
	out := RebuildIndexResult{JobID: result.JobID, Enqueue: fromEnqueue(result)}
	if result.Dropped {
		return out, errs.New(errs.IndexEnqueueDropped, "index queue is full")
	}

	if req.Wait {
		if req.Timeout <= 0 {
			req.Timeout = 30 * time.Second
		}
		deadline := time.Now().Add(req.Timeout)
		for time.Now().Before(deadline) {
			status := t.c.IndexWorker.Status()
			if !jobActive(status, result.JobID) {
				out.Status = jobTerminalState(status, result.JobID)
				return out, nil
			}
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		out.WaitTimeout = true
		return out, errs.New(errs.WaitTimeout, "index job did not finish within the requested timeout")
	}

	return out, nil
}

func jobActive(s indexworker.Status, jobID string) bool {
	for _, id := range s.ActiveJobIDs {
		if id == jobID {
			return true
		}
	}
	for _, id := range s.CancellingIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

func jobTerminalState(s indexworker.Status, jobID string) string {
	for _, j := range s.RecentJobs {
		if j.JobID == jobID {
			return string(j.State)
		}
	}
	return "unknown"
}

// IndexStatusResult mirrors indexworker.Status for tool consumers.
type IndexStatusResult struct {
	QueueDepth    int              `json:"queue_depth"`
	ActiveJobIDs  []string         `json:"active_job_ids"`
	CancellingIDs []string         `json:"cancelling_ids"`
	RecentJobs    []types.IndexJob `json:"recent_jobs"`
	LastError     string           `json:"last_error,omitempty"`
}

func (t *Tools) IndexStatus(ctx context.Context) (IndexStatusResult, error) {
	s := t.c.IndexWorker.Status()
	return IndexStatusResult{
		QueueDepth:    s.QueueDepth,
		ActiveJobIDs:  s.ActiveJobIDs,
		CancellingIDs: s.CancellingIDs,
		RecentJobs:    s.RecentJobs,
		LastError:     s.LastError,
	}, nil
}

// RetryIndexJob re-enqueues a finished job by id, returning the new job id.
func (t *Tools) RetryIndexJob(ctx context.Context, jobID, reason string) (RebuildIndexResult, error) {
	newID, err := t.c.IndexWorker.Retry(jobID, reason)
	if err != nil {
		return RebuildIndexResult{}, err
	}
	return RebuildIndexResult{JobID: newID, Enqueue: EnqueueStats{JobID: newID, Queued: true}}, nil
}
