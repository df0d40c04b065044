package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPSummarizerReturnsGist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(summarizeResponse{GistText: "the user discussed X and Y", Quality: 0.8})
	}))
	defer srv.Close()

	s := &HTTPSummarizer{baseURL: srv.URL, maxRetries: 1, timeout: time.Second, client: srv.Client()}
	result, err := s.Summarize(context.Background(), "long session transcript...", 5)
	require.NoError(t, err)
	require.Equal(t, "the user discussed X and Y", result.Text)
	require.Equal(t, 0.8, result.Quality)
}

func TestHTTPSummarizerRejectsEmptyGist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(summarizeResponse{GistText: "", Quality: 0})
	}))
	defer srv.Close()

	s := &HTTPSummarizer{baseURL: srv.URL, maxRetries: 1, timeout: time.Second, client: srv.Client()}
	_, err := s.Summarize(context.Background(), "content", 5)
	require.Error(t, err)
}
