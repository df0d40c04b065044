package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p := New(st, nil, nil, Thresholds{IntentStrongMargin: 0.15, IntentFloor: 0.05, IntentAmbiguousMargin: 0.05}, ModeHybrid, 10)
	return p, st
}

func TestPreprocessStripsURIsAndCollapsesWhitespace(t *testing.T) {
	out := preprocess("check   out  https://example.com/path   for details")
	require.Equal(t, "check out for details", out)
}

func TestClassifyIntentCausal(t *testing.T) {
	th := Thresholds{IntentStrongMargin: 0.15, IntentFloor: 0.05, IntentAmbiguousMargin: 0.05}
	require.Equal(t, IntentCausal, classifyIntent("why did the build fail", th))
}

func TestClassifyIntentExploratory(t *testing.T) {
	th := Thresholds{IntentStrongMargin: 0.15, IntentFloor: 0.05, IntentAmbiguousMargin: 0.05}
	require.Equal(t, IntentExploratory, classifyIntent("list examples of good error handling", th))
}

func TestClassifyIntentDefaultsFactual(t *testing.T) {
	th := Thresholds{IntentStrongMargin: 0.15, IntentFloor: 0.05, IntentAmbiguousMargin: 0.05}
	require.Equal(t, IntentFactual, classifyIntent("the capital of France is Paris", th))
}

func TestSearchDegradesToKeywordWithoutEmbedder(t *testing.T) {
	p, st := newTestPipeline(t)
	_, _, err := st.Create("notes", "", "rust programming language", 1, "rust", "")
	require.NoError(t, err)

	resp := p.Search(context.Background(), Request{RawQuery: "rust programming", Mode: ModeHybrid})
	require.Equal(t, ModeKeyword, resp.ModeApplied)
	require.Contains(t, resp.DegradeReasons, "embedding_adapter_unavailable")
	require.NotEmpty(t, resp.Results)
}

func TestSearchAppliesMaxPriorityFilter(t *testing.T) {
	p, st := newTestPipeline(t)
	_, _, err := st.Create("notes", "", "alpha content about cats", 5, "alpha", "")
	require.NoError(t, err)

	maxPrio := 1
	resp := p.Search(context.Background(), Request{RawQuery: "alpha content cats", Mode: ModeKeyword, MaxPriority: &maxPrio})
	require.Empty(t, resp.Results)
}
