package indexworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memorypalace/core/pkg/types"
)

func TestEnqueueDedupesWhileQueued(t *testing.T) {
	w := New(10, 1, 10, 1, time.Millisecond, 10*time.Millisecond)
	r1 := w.Enqueue(types.TaskReindexMemory, "mem-1", "write")
	require.True(t, r1.Queued)

	r2 := w.Enqueue(types.TaskReindexMemory, "mem-1", "write")
	require.True(t, r2.Deduped)
	require.Equal(t, r1.JobID, r2.JobID)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := New(1, 1, 10, 1, time.Millisecond, 10*time.Millisecond)
	r1 := w.Enqueue(types.TaskReindexMemory, "mem-1", "write")
	require.True(t, r1.Queued)

	r2 := w.Enqueue(types.TaskReindexMemory, "mem-2", "write")
	require.True(t, r2.Dropped)
}

func TestHandlerRunsAndSucceeds(t *testing.T) {
	w := New(10, 1, 10, 1, time.Millisecond, 10*time.Millisecond)
	done := make(chan struct{})
	w.Register(types.TaskReindexMemory, func(ctx context.Context, job types.IndexJob, cancelled func() bool) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Enqueue(types.TaskReindexMemory, "mem-1", "write")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not run in time")
	}

	time.Sleep(20 * time.Millisecond)
	status := w.Status()
	require.Len(t, status.RecentJobs, 1)
	require.Equal(t, types.JobSucceeded, status.RecentJobs[0].State)
}

func TestCancelQueuedJobIsImmediate(t *testing.T) {
	w := New(10, 1, 10, 1, time.Millisecond, 10*time.Millisecond)
	r := w.Enqueue(types.TaskRebuildIndex, "", "startup")
	require.NoError(t, w.Cancel(r.JobID))
}

func TestCancelUnknownJobErrors(t *testing.T) {
	w := New(10, 1, 10, 1, time.Millisecond, 10*time.Millisecond)
	require.Error(t, w.Cancel("no-such-job"))
}
