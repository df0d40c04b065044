package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/tools"
	"github.com/memorypalace/core/pkg/types"
)

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.InvalidRequest, "malformed request body", err)
	}
	return nil
}

// ---- read_memory / search_memory (unauthenticated reads) ----

func (s *Server) handleReadMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := tools.ReadMemoryRequest{
		Address:   q.Get("address"),
		SessionID: q.Get("session_id"),
	}
	if v := q.Get("chunk_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errs.InvalidRequest, "chunk_id must be an integer")
			return
		}
		req.ChunkID = &n
	}
	if v := q.Get("range"); v != "" {
		req.Range = &v
	}
	if v := q.Get("max_chars"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errs.InvalidRequest, "max_chars must be an integer")
			return
		}
		req.MaxChars = &n
	}

	out, err := s.tools.ReadMemory(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearchMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := tools.SearchMemoryRequest{
		Query:          q.Get("query"),
		ModeRequested:  q.Get("mode"),
		Domain:         q.Get("domain"),
		PathPrefix:     q.Get("path_prefix"),
		IncludeSession: q.Get("include_session") == "true",
	}
	if v := q.Get("max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.MaxResults = n
		}
	}
	if v := q.Get("candidate_multiplier"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.CandidateMultiplier = n
		}
	}
	if v := q.Get("session_memory_ids"); v != "" {
		req.SessionMemoryIDs = strings.Split(v, ",")
	}
	if v := q.Get("max_priority"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.MaxPriority = &n
		}
	}
	if v := q.Get("updated_after"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			req.UpdatedAfter = &ts
		}
	}

	out, err := s.tools.SearchMemory(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// browseResponse is the answer to GET /browse/{domain}/*.
type browseResponse struct {
	Address  string   `json:"address"`
	Exists   bool     `json:"exists"`
	Children []string `json:"children"`
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "*")
	domain, path, _ := strings.Cut(sub, "/")
	raw := domain + "://" + path

	addr, err := s.core.Resolver.Parse(raw)
	if err != nil {
		handleError(w, err)
		return
	}
	children, err := s.core.Resolver.Children(addr)
	if err != nil {
		handleError(w, err)
		return
	}
	_, resolveErr := s.core.Resolver.Resolve(addr)
	writeJSON(w, http.StatusOK, browseResponse{
		Address:  raw,
		Exists:   resolveErr == nil,
		Children: children,
	})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.tools.IndexStatus(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- write routes (API-key gated) ----

type createMemoryBody struct {
	SessionID     string `json:"session_id"`
	ParentAddress string `json:"parent_address"`
	Content       string `json:"content"`
	Priority      int    `json:"priority"`
	Title         string `json:"title"`
	Disclosure    string `json:"disclosure"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var body createMemoryBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	out, err := s.tools.CreateMemory(r.Context(), tools.CreateMemoryRequest{
		SessionID:     body.SessionID,
		ParentAddress: body.ParentAddress,
		Content:       body.Content,
		Priority:      body.Priority,
		Title:         body.Title,
		Disclosure:    body.Disclosure,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type updateMemoryBody struct {
	SessionID  string  `json:"session_id"`
	Address    string  `json:"address"`
	Old        *string `json:"old"`
	New        *string `json:"new"`
	Append     *string `json:"append"`
	Priority   *int    `json:"priority"`
	Disclosure *string `json:"disclosure"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var body updateMemoryBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	out, err := s.tools.UpdateMemory(r.Context(), tools.UpdateMemoryRequest{
		SessionID:  body.SessionID,
		Address:    body.Address,
		Old:        body.Old,
		New:        body.New,
		Append:     body.Append,
		Priority:   body.Priority,
		Disclosure: body.Disclosure,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type deleteMemoryBody struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	var body deleteMemoryBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	out, err := s.tools.DeleteMemory(r.Context(), tools.DeleteMemoryRequest{
		SessionID: body.SessionID,
		Address:   body.Address,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type addAliasBody struct {
	NewAddress    string `json:"new_address"`
	TargetAddress string `json:"target_address"`
	Priority      int    `json:"priority"`
	Disclosure    string `json:"disclosure"`
}

func (s *Server) handleAddAlias(w http.ResponseWriter, r *http.Request) {
	var body addAliasBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	out, err := s.tools.AddAlias(r.Context(), tools.AddAliasRequest{
		NewAddress:    body.NewAddress,
		TargetAddress: body.TargetAddress,
		Priority:      body.Priority,
		Disclosure:    body.Disclosure,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type compactContextBody struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	ReasonTag string `json:"reason_tag"`
	Force     bool   `json:"force"`
	MaxLines  int    `json:"max_lines"`
}

func (s *Server) handleCompactContext(w http.ResponseWriter, r *http.Request) {
	var body compactContextBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	out, err := s.tools.CompactContext(r.Context(), tools.CompactContextRequest{
		SessionID: body.SessionID,
		Content:   body.Content,
		ReasonTag: body.ReasonTag,
		Force:     body.Force,
		MaxLines:  body.MaxLines,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type rebuildIndexBody struct {
	MemoryID           string `json:"memory_id"`
	Reason             string `json:"reason"`
	Wait               bool   `json:"wait"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	SleepConsolidation bool   `json:"sleep_consolidation"`
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	var body rebuildIndexBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	req := tools.RebuildIndexRequest{
		MemoryID:           body.MemoryID,
		Reason:             body.Reason,
		Wait:               body.Wait,
		SleepConsolidation: body.SleepConsolidation,
	}
	if body.TimeoutSeconds > 0 {
		req.Timeout = time.Duration(body.TimeoutSeconds) * time.Second
	}
	out, err := s.tools.RebuildIndex(r.Context(), req)
	if err != nil {
		if kind, ok := errs.KindOf(err); ok && kind == errs.IndexEnqueueDropped {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":  "index_job_enqueue_failed",
				"reason": "queue_full",
			})
			return
		}
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type retryIndexJobBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRetryIndexJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	var body retryIndexJobBody
	_ = decodeJSON(r, &body) // a retry reason is optional; a missing/empty body is fine

	out, err := s.tools.RetryIndexJob(r.Context(), jobID, body.Reason)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- cleanup review wire contract (spec.md §6) ----

type selectionBody struct {
	MemoryID  string `json:"memory_id"`
	StateHash string `json:"state_hash"`
}

type prepareCleanupBody struct {
	Action     string          `json:"action"`
	Reviewer   string          `json:"reviewer"`
	Selections []selectionBody `json:"selections"`
}

type reviewWire struct {
	ReviewID           string    `json:"review_id"`
	Token              string    `json:"token"`
	ConfirmationPhrase string    `json:"confirmation_phrase"`
	ExpiresAt          time.Time `json:"expires_at"`
	Action             string    `json:"action"`
	Reviewer           string    `json:"reviewer"`
}

func (s *Server) handlePrepareCleanup(w http.ResponseWriter, r *http.Request) {
	var body prepareCleanupBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	action := types.ReviewAction(body.Action)
	if action != types.ActionDelete && action != types.ActionKeep {
		writeError(w, http.StatusBadRequest, errs.InvalidRequest, "action must be delete or keep")
		return
	}
	selections := make([]types.Selection, 0, len(body.Selections))
	for _, sel := range body.Selections {
		selections = append(selections, types.Selection{MemoryID: sel.MemoryID, StateHash: sel.StateHash})
	}

	result, err := s.core.Governance.PrepareCleanup(body.Reviewer, action, selections)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]reviewWire{
		"review": {
			ReviewID:           result.Review.ReviewID,
			Token:              result.Review.Token,
			ConfirmationPhrase: result.Review.ConfirmationPhrase,
			ExpiresAt:          result.Review.ExpiresAt,
			Action:             string(result.Review.Action),
			Reviewer:           result.Review.Reviewer,
		},
	})
}

type confirmCleanupBody struct {
	ReviewID           string `json:"review_id"`
	Token              string `json:"token"`
	ConfirmationPhrase string `json:"confirmation_phrase"`
}

type confirmCleanupResponse struct {
	Status       string `json:"status"`
	DeletedCount int    `json:"deleted_count"`
	KeptCount    int    `json:"kept_count"`
	SkippedCount int    `json:"skipped_count"`
	ErrorCount   int    `json:"error_count"`
}

func (s *Server) handleConfirmCleanup(w http.ResponseWriter, r *http.Request) {
	var body confirmCleanupBody
	if err := decodeJSON(r, &body); err != nil {
		handleError(w, err)
		return
	}
	outcome, err := s.core.Governance.ConfirmCleanup(body.ReviewID, body.Token, body.ConfirmationPhrase)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmCleanupResponse{
		Status:       "confirmed",
		DeletedCount: outcome.Deleted,
		KeptCount:    outcome.Kept,
		SkippedCount: outcome.Skipped,
	})
}

// ---- sleep consolidation (preview is read-only by nature, but lives
// behind the write gate alongside apply since both are maintenance ops) ----

func (s *Server) handleSleepPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.core.Governance.PreviewSleepConsolidation()
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleSleepApply(w http.ResponseWriter, r *http.Request) {
	result, err := s.core.Governance.ApplySleepConsolidation(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
