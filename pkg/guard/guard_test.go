package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func testThresholds() Thresholds {
	return Thresholds{
		SemNoopThreshold:    0.95,
		SemUpdateLow:        0.80,
		KwNoopThreshold:     0.92,
		KwUpdateThreshold:   0.65,
		LLMConsultThreshold: 0.5,
	}
}

func TestEvaluateMetaOnlyBypasses(t *testing.T) {
	g := New(testThresholds(), nil, nil)
	d := g.Evaluate(context.Background(), "anything", []Candidate{{MemoryID: "a", Content: "anything"}}, true)
	require.Equal(t, ActionBypass, d.Action)
	require.Equal(t, MethodBypass, d.Method)
}

func TestEvaluateNoCandidatesAdds(t *testing.T) {
	g := New(testThresholds(), nil, nil)
	d := g.Evaluate(context.Background(), "brand new content", nil, false)
	require.Equal(t, ActionAdd, d.Action)
}

func TestEvaluateKeywordNoopOnDuplicate(t *testing.T) {
	g := New(testThresholds(), nil, nil)
	candidates := []Candidate{{MemoryID: "mem-1", Content: "prefer concise code"}}
	d := g.Evaluate(context.Background(), "prefer concise code", candidates, false)
	require.Equal(t, ActionNoop, d.Action)
	require.Equal(t, "mem-1", d.TargetID)
	require.Equal(t, MethodKeyword, d.Method)
}

func TestEvaluateKeywordUpdateOnSupersedingContent(t *testing.T) {
	g := New(testThresholds(), nil, nil)
	candidates := []Candidate{{MemoryID: "mem-1", Content: "use tabs not spaces, and always run gofmt before committing any change"}}
	proposal := "use tabs not spaces, and always run gofmt before committing any change to the repository"
	d := g.Evaluate(context.Background(), proposal, candidates, false)
	require.Equal(t, ActionUpdate, d.Action)
	require.Equal(t, "mem-1", d.TargetID)
}

func TestEvaluateUnrelatedContentAdds(t *testing.T) {
	g := New(testThresholds(), nil, nil)
	candidates := []Candidate{{MemoryID: "mem-1", Content: "the sky is blue"}}
	d := g.Evaluate(context.Background(), "bananas are a good source of potassium", candidates, false)
	require.Equal(t, ActionAdd, d.Action)
}

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	return f.vectors[text], nil
}

func TestEvaluateSemanticNoop(t *testing.T) {
	emb := fakeEmbedder{vectors: map[string][]float64{
		"proposal": {1, 0, 0},
	}}
	g := New(testThresholds(), emb, nil)
	candidates := []Candidate{{MemoryID: "mem-1", Content: "existing", Vector: []float64{1, 0, 0}}}
	d := g.Evaluate(context.Background(), "proposal", candidates, false)
	require.Equal(t, ActionNoop, d.Action)
	require.Equal(t, MethodEmbedding, d.Method)
}
