package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/lane"
	"github.com/memorypalace/core/pkg/store"
	"github.com/memorypalace/core/pkg/types"
)

func testConfig() Config {
	return Config{
		VitalityMax:         100,
		VitalityFloor:       0,
		ReinforceDelta:      5,
		DecayHalfLifeDays:   30,
		CleanupThreshold:    10,
		CleanupInactiveDays: 90,
		CleanupReviewTTL:    time.Minute,
		MaxPendingReviews:   2,
		SleepDedupThreshold: 0.9,
		SleepRollupMaxChars: 2000,
	}
}

func newTestLoop(t *testing.T) (*Loop, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ln := lane.New(4, time.Second)
	return New(st, ln, testConfig()), st
}

func TestRunVitalityDecayOnceSkipsSameDay(t *testing.T) {
	l, st := newTestLoop(t)
	mem, _, err := st.Create("notes", "", "decay me", 1, "decay-target", "")
	require.NoError(t, err)
	require.NoError(t, st.SetVitality(mem.ID, 100, false))

	now := time.Now()
	require.NoError(t, l.RunVitalityDecayOnce(now))
	afterFirst, err := st.GetMemory(mem.ID)
	require.NoError(t, err)
	require.NoError(t, l.RunVitalityDecayOnce(now.Add(time.Hour)))

	got, err := st.GetMemory(mem.ID)
	require.NoError(t, err)
	require.Equal(t, afterFirst.VitalityScore, got.VitalityScore)
}

func TestRunVitalityDecayOnceAppliesAfterElapsedDays(t *testing.T) {
	l, st := newTestLoop(t)
	mem, _, err := st.Create("notes", "", "decay me", 1, "decay-target-2", "")
	require.NoError(t, err)
	require.NoError(t, st.SetVitality(mem.ID, 100, false))

	base := time.Now()
	require.NoError(t, l.RunVitalityDecayOnce(base))
	require.NoError(t, l.RunVitalityDecayOnce(base.Add(31*24*time.Hour)))

	got, err := st.GetMemory(mem.ID)
	require.NoError(t, err)
	require.Less(t, got.VitalityScore, 60.0)
	require.GreaterOrEqual(t, got.VitalityScore, 40.0)
}

func TestReinforceBumpsVitalityAndClampsAtMax(t *testing.T) {
	l, st := newTestLoop(t)
	mem, _, err := st.Create("notes", "", "reinforced", 1, "reinforce-target", "")
	require.NoError(t, err)
	require.NoError(t, st.SetVitality(mem.ID, 98, false))

	require.NoError(t, l.Reinforce(mem.ID))

	got, err := st.GetMemory(mem.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, got.VitalityScore)
}

func TestPrepareCleanupRejectsStaleStateHash(t *testing.T) {
	l, st := newTestLoop(t)
	mem, _, err := st.Create("notes", "", "stale candidate", 1, "stale-target", "")
	require.NoError(t, err)

	_, err = l.PrepareCleanup("alice", types.ActionDelete, []types.Selection{{MemoryID: mem.ID, StateHash: "deadbeef"}})
	require.Error(t, err)
}

func TestPrepareConfirmCleanupDeletesSelection(t *testing.T) {
	l, st := newTestLoop(t)
	mem, addr, err := st.Create("notes", "", "delete me", 1, "delete-target", "")
	require.NoError(t, err)
	// Cleanup only physically deletes memories with no surviving path.
	_, _, err = st.Delete(addr)
	require.NoError(t, err)

	hash, err := st.StateHash(mem.ID)
	require.NoError(t, err)

	prep, err := l.PrepareCleanup("alice", types.ActionDelete, []types.Selection{{MemoryID: mem.ID, StateHash: hash}})
	require.NoError(t, err)

	outcome, err := l.ConfirmCleanup(prep.Review.ReviewID, prep.Review.Token, prep.Review.ConfirmationPhrase)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Deleted)

	_, err = l.ConfirmCleanup(prep.Review.ReviewID, prep.Review.Token, prep.Review.ConfirmationPhrase)
	require.Error(t, err)
}

func TestConfirmCleanupRejectsBadPhrase(t *testing.T) {
	l, st := newTestLoop(t)
	mem, _, err := st.Create("notes", "", "keep me", 1, "keep-target", "")
	require.NoError(t, err)
	hash, err := st.StateHash(mem.ID)
	require.NoError(t, err)

	prep, err := l.PrepareCleanup("alice", types.ActionKeep, []types.Selection{{MemoryID: mem.ID, StateHash: hash}})
	require.NoError(t, err)

	_, err = l.ConfirmCleanup(prep.Review.ReviewID, prep.Review.Token, "wrong-phrase")
	require.Error(t, err)
}

func TestConfirmCleanupRejectsExpiredReview(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	ln := lane.New(4, time.Second)
	cfg := testConfig()
	cfg.CleanupReviewTTL = time.Millisecond
	l := New(st, ln, cfg)

	mem, _, err := st.Create("notes", "", "expiring", 1, "expire-target", "")
	require.NoError(t, err)
	hash, err := st.StateHash(mem.ID)
	require.NoError(t, err)

	prep, err := l.PrepareCleanup("alice", types.ActionKeep, []types.Selection{{MemoryID: mem.ID, StateHash: hash}})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = l.ConfirmCleanup(prep.Review.ReviewID, prep.Review.Token, prep.Review.ConfirmationPhrase)
	require.Error(t, err)
}

func TestPreviewSleepConsolidationFindsDedupCluster(t *testing.T) {
	l, st := newTestLoop(t)
	m1, _, err := st.Create("notes", "", "duplicate content one", 1, "dup-one", "")
	require.NoError(t, err)
	m2, _, err := st.Create("notes", "", "duplicate content two", 1, "dup-two", "")
	require.NoError(t, err)

	vec := []float64{1, 0, 0}
	st.IndexVector(m1.ID, vec)
	st.IndexVector(m2.ID, vec)
	require.NoError(t, st.SetVitality(m1.ID, 80, false))
	require.NoError(t, st.SetVitality(m2.ID, 40, false))

	preview, err := l.PreviewSleepConsolidation()
	require.NoError(t, err)
	require.Len(t, preview.Dedup, 1)
	require.Equal(t, m1.ID, preview.Dedup[0].KeeperID)
	require.Equal(t, []string{m2.ID}, preview.Dedup[0].DuplicateIDs)
}

func TestApplySleepConsolidationNoopsWhenFlagsOff(t *testing.T) {
	l, st := newTestLoop(t)
	m1, _, err := st.Create("notes", "", "duplicate content one", 1, "dup-a", "")
	require.NoError(t, err)
	m2, _, err := st.Create("notes", "", "duplicate content two", 1, "dup-b", "")
	require.NoError(t, err)
	vec := []float64{1, 0, 0}
	st.IndexVector(m1.ID, vec)
	st.IndexVector(m2.ID, vec)

	result, err := l.ApplySleepConsolidation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.DedupApplied)
	require.Equal(t, 0, result.RollupApplied)
}
