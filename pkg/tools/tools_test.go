package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/core"
	"github.com/memorypalace/core/pkg/errs"
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

func newTestTools(t *testing.T) *Tools {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

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
	worker.Start(ctx)

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

func TestCreateMemoryCreatesNewWhenNoCandidates(t *testing.T) {
	tl := newTestTools(t)
	res, err := tl.CreateMemory(context.Background(), CreateMemoryRequest{
		SessionID: "s1", ParentAddress: "notes://", Content: "the sky is blue", Title: "sky",
	})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, "ADD", res.Guard.Action)
	require.Equal(t, "notes://sky", res.URI)
}

func TestCreateMemoryNoopsOnNearDuplicate(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "the quick brown fox jumps over the lazy dog", Title: "fox"})
	require.NoError(t, err)

	res, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "the quick brown fox jumps over the lazy dog", Title: "fox2"})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, "NOOP", res.Guard.Action)
	require.Equal(t, "notes://fox", res.URI)
}

func TestReadMemoryAppliesMaxChars(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "abcdefghij", Title: "short"})
	require.NoError(t, err)

	maxChars := 4
	out, err := tl.ReadMemory(ctx, ReadMemoryRequest{Address: "notes://short", MaxChars: &maxChars})
	require.NoError(t, err)
	require.Equal(t, "abcd", out.Content)
	require.True(t, out.Truncated)
}

func TestReadMemoryRejectsMultipleSlicingForms(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	chunk := 0
	maxChars := 4
	_, err := tl.ReadMemory(ctx, ReadMemoryRequest{Address: "notes://x", ChunkID: &chunk, MaxChars: &maxChars})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.InvalidRequest, kind)
}

func TestUpdateMemoryMetaOnlyBypassesGuard(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "original content", Title: "meta"})
	require.NoError(t, err)

	priority := 3
	res, err := tl.UpdateMemory(ctx, UpdateMemoryRequest{SessionID: "s1", Address: "notes://meta", Priority: &priority})
	require.NoError(t, err)
	require.True(t, res.Updated)
	require.Equal(t, "BYPASS", res.Guard.Action)
}

func TestUpdateMemoryRejectsMixedForms(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "original content", Title: "mix"})
	require.NoError(t, err)

	old := "original"
	newText := "new"
	append_ := "tail"
	_, err = tl.UpdateMemory(ctx, UpdateMemoryRequest{SessionID: "s1", Address: "notes://mix", Old: &old, New: &newText, Append: &append_})
	require.Error(t, err)
}

func TestDeleteMemoryDeprecatesLastPath(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "to be deleted", Title: "gone"})
	require.NoError(t, err)

	res, err := tl.DeleteMemory(ctx, DeleteMemoryRequest{SessionID: "s1", Address: "notes://gone"})
	require.NoError(t, err)
	require.True(t, res.Deleted)
	require.Empty(t, res.SurvivingPaths)
}

func TestAddAliasForcesAddVerdict(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "aliased content", Title: "orig"})
	require.NoError(t, err)

	res, err := tl.AddAlias(ctx, AddAliasRequest{NewAddress: "notes://alias-of-orig", TargetAddress: "notes://orig"})
	require.NoError(t, err)
	require.True(t, res.CreatedAlias)
	require.Equal(t, "ADD", res.Guard.Action)
}

func TestSearchMemoryReturnsKeywordHit(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	_, err := tl.CreateMemory(ctx, CreateMemoryRequest{SessionID: "s1", ParentAddress: "notes://", Content: "elephants have long memories", Title: "elephants"})
	require.NoError(t, err)

	res, err := tl.SearchMemory(ctx, SearchMemoryRequest{Query: "elephants memories", ModeRequested: "keyword"})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotEmpty(t, res.Results)
}

func TestCompactContextFallsBackToExtractiveSummary(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	res, err := tl.CompactContext(ctx, CompactContextRequest{
		SessionID: "s1", ReasonTag: "checkpoint", MaxLines: 3,
		Content: "line one\nline two\nline three\nline four",
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.Flushed)
	require.Equal(t, "extractive_v1", res.GistMethod)
	require.Contains(t, res.DegradeReasons, "compact_gist_llm_unavailable")
}

func TestCompactContextSkipsReflushWithoutForceOnUnchangedContent(t *testing.T) {
	tl := newTestTools(t)
	ctx := context.Background()
	req := CompactContextRequest{SessionID: "s1", ReasonTag: "checkpoint", MaxLines: 3, Content: "same content here"}
	first, err := tl.CompactContext(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Flushed)

	second, err := tl.CompactContext(ctx, req)
	require.NoError(t, err)
	require.False(t, second.Flushed)
}

func TestRebuildIndexRejectsSleepConsolidationWithMemoryID(t *testing.T) {
	tl := newTestTools(t)
	_, err := tl.RebuildIndex(context.Background(), RebuildIndexRequest{MemoryID: "m1", SleepConsolidation: true})
	require.Error(t, err)
}

func TestRebuildIndexWaitsForCompletion(t *testing.T) {
	tl := newTestTools(t)
	res, err := tl.RebuildIndex(context.Background(), RebuildIndexRequest{Reason: "test", Wait: true, Timeout: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "succeeded", res.Status)
}

func TestIndexStatusReportsQueueDepth(t *testing.T) {
	tl := newTestTools(t)
	status, err := tl.IndexStatus(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, status.QueueDepth, 0)
}
