package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetByAddress(t *testing.T) {
	s := openTestStore(t)

	mem, addr, err := s.Create("notes", "", "the sky is blue", 1, "sky", "")
	require.NoError(t, err)
	require.Equal(t, "notes://sky", addr.String())

	got, _, err := s.GetByAddress(addr)
	require.NoError(t, err)
	require.Equal(t, mem.ID, got.ID)
	require.Equal(t, "the sky is blue", got.Content)
}

func TestCreateDuplicateTitleRejected(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.Create("notes", "", "first", 1, "dup", "")
	require.NoError(t, err)
	_, _, err = s.Create("notes", "", "second", 1, "dup", "")
	require.Error(t, err)
}

func TestUpdatePatchAmbiguousAndMissing(t *testing.T) {
	s := openTestStore(t)
	mem, _, err := s.Create("notes", "", "a cat sat on a cat mat", 1, "cats", "")
	require.NoError(t, err)

	_, err = s.UpdatePatch(mem.ID, "cat", "dog")
	require.Error(t, err)

	_, err = s.UpdatePatch(mem.ID, "giraffe", "dog")
	require.Error(t, err)

	updated, err := s.UpdatePatch(mem.ID, "cat sat", "dog sat")
	require.NoError(t, err)
	require.Contains(t, updated.Content, "dog sat on a cat mat")
}

func TestDeleteMarksDeprecatedWhenLastPath(t *testing.T) {
	s := openTestStore(t)
	mem, addr, err := s.Create("notes", "", "content", 1, "one", "")
	require.NoError(t, err)

	remaining, deprecated, err := s.Delete(addr)
	require.NoError(t, err)
	require.True(t, deprecated)
	require.Empty(t, remaining)

	got, err := s.GetMemory(mem.ID)
	require.NoError(t, err)
	require.True(t, got.Deprecated)
}

func TestAddAliasSharesUnderlyingMemory(t *testing.T) {
	s := openTestStore(t)
	_, addr, err := s.Create("notes", "", "shared content", 1, "primary", "")
	require.NoError(t, err)

	alias := types.Address{Domain: "notes", Path: "alt"}
	_, err = s.AddAlias(alias, addr, 0, "")
	require.NoError(t, err)

	got, _, err := s.GetByAddress(alias)
	require.NoError(t, err)
	require.Equal(t, "shared content", got.Content)
}

func TestKeywordSearchRanksByRelevance(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Create("notes", "", "rust programming language systems", 1, "rust", "")
	require.NoError(t, err)
	_, _, err = s.Create("notes", "", "cooking pasta with rust colored sauce", 1, "pasta", "")
	require.NoError(t, err)

	results := s.Keyword("rust programming", 10)
	require.NotEmpty(t, results)
}

func TestListCleanupCandidatesOrdersByVitality(t *testing.T) {
	s := openTestStore(t)
	mem1, _, err := s.Create("notes", "", "low vitality", 1, "low", "")
	require.NoError(t, err)
	mem2, _, err := s.Create("notes", "", "mid vitality", 1, "mid", "")
	require.NoError(t, err)

	require.NoError(t, s.SetVitality(mem1.ID, 1, false))
	require.NoError(t, s.SetVitality(mem2.ID, 5, false))

	candidates, err := s.ListCleanupCandidates(10, -1, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, mem1.ID, candidates[0].ID)
}
