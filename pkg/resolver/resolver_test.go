package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	r := New(st, []string{"notes", "agent"}, []string{"notes://identity"})
	return r, st
}

func TestParseRejectsUnknownDomain(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Parse("secrets://topsecret")
	require.Error(t, err)
}

func TestParseRejectsMalformed(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Parse("not-an-address")
	require.Error(t, err)
}

func TestParseAllowsSystemDomainUnconditionally(t *testing.T) {
	r, _ := newTestResolver(t)
	addr, err := r.Parse("system://recent/5")
	require.NoError(t, err)
	require.Equal(t, "system", addr.Domain)
}

func TestSystemRecentRespectsCap(t *testing.T) {
	r, _ := newTestResolver(t)
	addr, err := r.Parse("system://recent/500")
	require.NoError(t, err)
	result, err := r.SystemQuery(addr)
	require.NoError(t, err)
	require.LessOrEqual(t, len(result.Recent), 100)
}

func TestSystemQueryRejectsUnknownPath(t *testing.T) {
	r, _ := newTestResolver(t)
	addr, err := r.Parse("system://bogus")
	require.NoError(t, err)
	_, err = r.SystemQuery(addr)
	require.Error(t, err)
}

func TestParseAllowsDomainRoot(t *testing.T) {
	r, _ := newTestResolver(t)
	addr, err := r.Parse("notes://")
	require.NoError(t, err)
	require.Equal(t, "notes", addr.Domain)
	require.Equal(t, "", addr.Path)
}

func TestSystemBootMergesCoreBundleAndRecent(t *testing.T) {
	r, st := newTestResolver(t)
	coreMem, _, err := st.Create("notes", "", "who I am", 1, "identity", "")
	require.NoError(t, err)

	other, _, err := st.Create("notes", "", "a recent note", 1, "scratch", "")
	require.NoError(t, err)

	addr, err := r.Parse("system://boot")
	require.NoError(t, err)
	result, err := r.SystemQuery(addr)
	require.NoError(t, err)

	require.NotEmpty(t, result.Boot)
	require.Equal(t, coreMem.ID, result.Boot[0].ID, "core-memory bundle entries come first")

	var sawRecent bool
	for _, m := range result.Boot[1:] {
		if m.ID == other.ID {
			sawRecent = true
		}
		require.NotEqual(t, coreMem.ID, m.ID, "core bundle entry must not be duplicated in the recent tail")
	}
	require.True(t, sawRecent, "system://boot must append most-recent-accessed memories after the core bundle")
}

func TestSystemIndexReflectsStore(t *testing.T) {
	r, st := newTestResolver(t)
	_, _, err := st.Create("notes", "", "hello", 1, "hello", "")
	require.NoError(t, err)

	addr, err := r.Parse("system://index")
	require.NoError(t, err)
	result, err := r.SystemQuery(addr)
	require.NoError(t, err)
	require.Equal(t, 1, result.Index.TotalMemories)
}
