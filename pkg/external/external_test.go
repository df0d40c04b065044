package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/guard"
)

func TestHashEmbedderIsDeterministic(t *testing.T) {
	h := HashEmbedder{Dim: 32}
	v1, err := h.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := h.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestHashEmbedderSimilarTextHasHigherOverlap(t *testing.T) {
	h := HashEmbedder{Dim: 64}
	a, _ := h.Embed(context.Background(), "rust systems programming language")
	b, _ := h.Embed(context.Background(), "rust systems programming tutorial")
	c, _ := h.Embed(context.Background(), "baking sourdough bread at home")

	simAB := dot(a, b)
	simAC := dot(a, c)
	require.Greater(t, simAB, simAC)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func TestHTTPEmbedderCallsConfiguredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := &HTTPEmbedder{baseURL: srv.URL, model: "test-model", maxRetries: 1, timeout: time.Second, client: srv.Client()}
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedderFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := &HTTPEmbedder{baseURL: srv.URL, maxRetries: 0, timeout: time.Second, client: srv.Client()}
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestHTTPClassifierParsesValidAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Action: "update", TargetID: "mem-1", Reason: "supersedes", Confidence: 0.8})
	}))
	defer srv.Close()

	c := &HTTPClassifier{baseURL: srv.URL, maxRetries: 0, timeout: time.Second, client: srv.Client()}
	d, err := c.Classify(context.Background(), "proposal", []guard.Candidate{{MemoryID: "mem-1", Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, guard.ActionUpdate, d.Action)
	require.Equal(t, "mem-1", d.TargetID)
}

func TestHTTPClassifierRejectsUnknownAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Action: "explode"})
	}))
	defer srv.Close()

	c := &HTTPClassifier{baseURL: srv.URL, maxRetries: 0, timeout: time.Second, client: srv.Client()}
	_, err := c.Classify(context.Background(), "proposal", nil)
	require.Error(t, err)
}
