package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/tools"
)

func TestCreateMemorySendsAPIKeyAndDecodesResult(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MCP-API-Key")
		require.Equal(t, "/memory", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(tools.CreateMemoryResult{Created: true, URI: "notes://hi"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	out, err := c.CreateMemory(context.Background(), "s1", "notes://", "hi", 1, "hi", "")
	require.NoError(t, err)
	require.True(t, out.Created)
	require.Equal(t, "notes://hi", out.URI)
	require.Equal(t, "secret", gotKey)
}

func TestErrorResponseDecodesIntoTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_or_missing_api_key", "message": "bad key"})
	}))
	defer srv.Close()

	c := New(srv.URL, "wrong")
	_, err := c.ReadMemory(context.Background(), "notes://x", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid_or_missing_api_key")
}

func TestSearchMemoryEncodesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "elephants", r.URL.Query().Get("query"))
		require.Equal(t, "keyword", r.URL.Query().Get("mode"))
		json.NewEncoder(w).Encode(tools.SearchMemoryResult{OK: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	out, err := c.SearchMemory(context.Background(), "elephants", "keyword", 0)
	require.NoError(t, err)
	require.True(t, out.OK)
}
