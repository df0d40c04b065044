package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/core"
	"github.com/memorypalace/core/pkg/events"
	"github.com/memorypalace/core/pkg/governance"
	"github.com/memorypalace/core/pkg/guard"
	"github.com/memorypalace/core/pkg/indexworker"
	"github.com/memorypalace/core/pkg/lane"
	"github.com/memorypalace/core/pkg/resolver"
	"github.com/memorypalace/core/pkg/retrieval"
	"github.com/memorypalace/core/pkg/snapshot"
	"github.com/memorypalace/core/pkg/store"
	"github.com/memorypalace/core/pkg/types"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	return newTestServerOpt(t, mutate, true)
}

// newTestServerOpt lets a test leave the index worker's consumer loop
// unstarted, so enqueued jobs stay queued instead of draining immediately
// (needed to deterministically exercise queue-full behavior).
func newTestServerOpt(t *testing.T, mutate func(*config.Config), startWorker bool) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := store.Open(cfg.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	res := resolver.New(st, cfg.ValidDomains, cfg.CoreMemoryURIs)
	g := guard.New(guard.Thresholds{
		SemNoopThreshold: cfg.SemNoopThreshold, SemUpdateLow: cfg.SemUpdateLow,
		KwNoopThreshold: cfg.KwNoopThreshold, KwUpdateThreshold: cfg.KwUpdateThreshold,
		LLMConsultThreshold: cfg.LLMConsultThreshold, TopK: 5,
	}, nil, nil)
	ln := lane.New(cfg.GlobalConcurrency, cfg.LaneWaitTimeout)
	ledger, err := snapshot.New(st)
	require.NoError(t, err)
	worker := indexworker.New(cfg.IndexQueueCapacity, cfg.IndexWorkerConcurrency, cfg.IndexRecentJobsRing, cfg.IndexMaxRetries, cfg.IndexRetryBaseDelay, cfg.IndexRetryMaxDelay)
	worker.Register(types.TaskRebuildIndex, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		return st.RebuildFullText()
	})
	worker.Register(types.TaskReindexMemory, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		return nil
	})
	gov := governance.New(st, ln, governance.ConfigFrom(cfg))
	pipeline := retrieval.New(st, nil, nil, retrieval.Thresholds{
		IntentStrongMargin: cfg.IntentStrongMargin, IntentFloor: cfg.IntentFloor, IntentAmbiguousMargin: cfg.IntentAmbiguousMargin,
	}, retrieval.Mode(cfg.SearchDefaultMode), 10)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if startWorker {
		worker.Start(ctx)
	}

	c := &core.Core{
		Config:      cfg,
		Store:       st,
		Resolver:    res,
		Guard:       g,
		Lane:        ln,
		Ledger:      ledger,
		IndexWorker: worker,
		Pipeline:    pipeline,
		Governance:  gov,
		Events:      broker,
	}
	return New(c)
}

func doJSON(srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.10:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMemoryRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKey = "secret" })
	rec := doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "hello", Title: "hello",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_or_missing_api_key", body["error"])
}

func TestCreateMemoryWithValidAPIKeySucceeds(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKey = "secret" })
	rec := doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "hello world", Title: "hello",
	}, map[string]string{"X-MCP-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, true, out["created"])
}

func TestWriteRouteRejectsMissingAPIKeyConfiguration(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "hello", Title: "hello",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "api_key_not_configured", body["error"])
}

func TestInsecureLocalOverrideRequiresLoopback(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKeyAllowInsecureLocal = true })
	rec := doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "hello", Title: "hello",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "insecure_local_override_requires_loopback", body["error"])
}

func TestInsecureLocalOverrideAllowsLoopback(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKeyAllowInsecureLocal = true })
	req := httptest.NewRequest(http.MethodPost, "/memory", bytes.NewBufferString(`{"parent_address":"notes://","content":"hi","title":"hi"}`))
	req.RemoteAddr = "127.0.0.1:9999"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadMemoryIsUnauthenticated(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKey = "secret" })
	create := doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "elephants never forget", Title: "elephants",
	}, map[string]string{"X-MCP-API-Key": "secret"})
	require.Equal(t, http.StatusOK, create.Code)

	rec := doJSON(s, http.MethodGet, "/memory?address=notes://elephants", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBrowseDomainRoot(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKey = "secret" })
	doJSON(s, http.MethodPost, "/memory", createMemoryBody{
		ParentAddress: "notes://", Content: "content", Title: "leaf",
	}, map[string]string{"X-MCP-API-Key": "secret"})

	rec := doJSON(s, http.MethodGet, "/browse/notes/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out browseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Contains(t, out.Children, "notes://leaf")
}

func TestRebuildIndexQueueFullReturns503(t *testing.T) {
	s := newTestServerOpt(t, func(cfg *config.Config) {
		cfg.MCPAPIKey = "secret"
		cfg.IndexQueueCapacity = 1
	}, false)
	headers := map[string]string{"X-MCP-API-Key": "secret"}
	doJSON(s, http.MethodPost, "/index/rebuild", rebuildIndexBody{MemoryID: "m1", Reason: "first"}, headers)
	rec := doJSON(s, http.MethodPost, "/index/rebuild", rebuildIndexBody{MemoryID: "m2", Reason: "second"}, headers)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "index_job_enqueue_failed", body["error"])
	require.Equal(t, "queue_full", body["reason"])
}

func TestPrepareCleanupRejectsBadAction(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.MCPAPIKey = "secret" })
	rec := doJSON(s, http.MethodPost, "/vitality/cleanup/prepare", prepareCleanupBody{
		Action: "nonsense", Reviewer: "alice",
	}, map[string]string{"X-MCP-API-Key": "secret"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
