package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/types"
)

type fakeStore struct {
	content   map[string]types.Memory
	snapshots map[string]types.Snapshot
}

func newFakeStore(content map[string]types.Memory) *fakeStore {
	return &fakeStore{content: content, snapshots: make(map[string]types.Snapshot)}
}

func (f *fakeStore) RawMemoryJSON(memoryID string) ([]byte, error) {
	m := f.content[memoryID]
	return json.Marshal(m)
}

func (f *fakeStore) RestoreContent(memoryID string, preState []byte) error {
	var m types.Memory
	if err := json.Unmarshal(preState, &m); err != nil {
		return err
	}
	f.content[memoryID] = m
	return nil
}

func (f *fakeStore) PutSnapshot(s types.Snapshot) error {
	f.snapshots[s.Key()] = s
	return nil
}

func (f *fakeStore) DeleteSnapshot(key string) error {
	delete(f.snapshots, key)
	return nil
}

func (f *fakeStore) ListSnapshots() ([]types.Snapshot, error) {
	out := make([]types.Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s)
	}
	return out, nil
}

func TestCaptureDiffRollback(t *testing.T) {
	fs := newFakeStore(map[string]types.Memory{
		"mem-1": {ID: "mem-1", Content: "original"},
	})
	l, err := New(fs)
	require.NoError(t, err)

	pre, err := fs.RawMemoryJSON("mem-1")
	require.NoError(t, err)
	require.NoError(t, l.Capture("session-1", "mem-1", types.ResourceMemory, types.OpModifyContent, pre))

	fs.content["mem-1"] = types.Memory{ID: "mem-1", Content: "modified"}

	diff, err := l.Diff("session-1", "mem-1")
	require.NoError(t, err)
	require.True(t, diff.Changed)
	require.Equal(t, "original", diff.PreContent)
	require.Equal(t, "modified", diff.CurrentContent)

	require.NoError(t, l.Rollback("session-1", "mem-1"))
	require.Equal(t, "original", fs.content["mem-1"].Content)
	require.Empty(t, fs.snapshots, "rollback should clear the persisted snapshot too")

	_, err = l.Diff("session-1", "mem-1")
	require.Error(t, err, "snapshot should be gone after rollback")
}

func TestApproveRemovesWithoutRestoring(t *testing.T) {
	fs := newFakeStore(map[string]types.Memory{"mem-1": {ID: "mem-1", Content: "v1"}})
	l, err := New(fs)
	require.NoError(t, err)
	pre, _ := fs.RawMemoryJSON("mem-1")
	require.NoError(t, l.Capture("session-1", "mem-1", types.ResourceMemory, types.OpModifyContent, pre))

	fs.content["mem-1"] = types.Memory{ID: "mem-1", Content: "v2"}
	require.NoError(t, l.Approve("session-1", "mem-1"))
	require.Equal(t, "v2", fs.content["mem-1"].Content)
	require.Empty(t, fs.snapshots)
}

func TestDiscardLeavesNoSnapshot(t *testing.T) {
	fs := newFakeStore(map[string]types.Memory{"mem-1": {ID: "mem-1", Content: "v1"}})
	l, err := New(fs)
	require.NoError(t, err)
	pre, _ := fs.RawMemoryJSON("mem-1")
	require.NoError(t, l.Capture("session-1", "mem-1", types.ResourceMemory, types.OpCreate, pre))
	require.NoError(t, l.Discard("session-1", "mem-1"))

	require.Empty(t, l.List("session-1"))
	require.Empty(t, fs.snapshots)
}

func TestClearRemovesAllForSession(t *testing.T) {
	fs := newFakeStore(map[string]types.Memory{
		"mem-1": {ID: "mem-1", Content: "v1"},
		"mem-2": {ID: "mem-2", Content: "v1"},
	})
	l, err := New(fs)
	require.NoError(t, err)
	pre1, _ := fs.RawMemoryJSON("mem-1")
	pre2, _ := fs.RawMemoryJSON("mem-2")
	require.NoError(t, l.Capture("session-1", "mem-1", types.ResourceMemory, types.OpCreate, pre1))
	require.NoError(t, l.Capture("session-1", "mem-2", types.ResourceMemory, types.OpCreate, pre2))

	n, err := l.Clear("session-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Empty(t, l.List("session-1"))
	require.Empty(t, fs.snapshots)
}

func TestNewWarmsFromPersistedSnapshots(t *testing.T) {
	fs := newFakeStore(map[string]types.Memory{"mem-1": {ID: "mem-1", Content: "v1"}})
	pre, _ := fs.RawMemoryJSON("mem-1")
	require.NoError(t, fs.PutSnapshot(types.Snapshot{
		SessionID:    "session-1",
		ResourceID:   "mem-1",
		ResourceType: types.ResourceMemory,
		PreState:     pre,
	}))

	l, err := New(fs)
	require.NoError(t, err)
	require.Len(t, l.List("session-1"), 1)
}
