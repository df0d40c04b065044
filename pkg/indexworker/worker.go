// Package indexworker implements the Index Worker: a bounded background
// queue that processes rebuild_index, reindex_memory and
// sleep_consolidation jobs off the write path. It follows the teacher's
// ticker+stopCh background-loop shape (pkg/reconciler.go) generalized from
// a single periodic pass into a multi-worker consumer over an explicit
// FIFO job queue with dedup and cooperative cancellation, since the spec
// requires queue observability (depth, recent-jobs ring, cancelling count)
// that a bare ticker loop cannot expose.
package indexworker

import (
	"container/ring"
	"context"
	"sync"
	"time"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/metrics"
	"github.com/memorypalace/core/pkg/types"
)

// Handler executes one job. It must poll cancelled periodically (at batch
// or stage boundaries) and return errs with Kind errs... on failure; a
// handler that observes cancelled()==true should stop promptly and return
// nil (the worker records the job as cancelled, not failed).
type Handler func(ctx context.Context, job types.IndexJob, cancelled func() bool) error

// EnqueueResult is the outcome of one Enqueue call.
type EnqueueResult struct {
	JobID   string
	Queued  bool
	Deduped bool
	Dropped bool
}

type queuedJob struct {
	job       types.IndexJob
	cancelled int32 // atomic-ish; only ever touched under w.mu
}

// Worker is the bounded, dedup-aware background index job processor.
type Worker struct {
	capacity    int
	concurrency int
	ringSize    int
	maxRetries  int
	retryBase   time.Duration
	retryMax    time.Duration

	handlers map[types.TaskType]Handler

	// Queue and history are in-process only; a restart drops queued and
	// recent jobs. Every job type is safely re-triggerable (rebuild_index
	// and reindex_memory recompute from the durable store, sleep
	// consolidation re-previews before applying), so nothing here needs
	// bolt-backed recovery, unlike Snapshot's pending rollbacks.
	mu         sync.Mutex
	order      []string // job ids, FIFO
	byID       map[string]*queuedJob
	dedupIndex map[string]string // DedupKey -> job id
	running    map[string]*types.IndexJob
	cancelling map[string]bool
	recent     *ring.Ring
	lastError  string

	wake chan struct{}
	done chan struct{}
}

// New builds a Worker. Register handlers before calling Start.
func New(capacity, concurrency, ringSize, maxRetries int, retryBase, retryMax time.Duration) *Worker {
	if capacity < 1 {
		capacity = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if ringSize < 1 {
		ringSize = 1
	}
	return &Worker{
		capacity:    capacity,
		concurrency: concurrency,
		ringSize:    ringSize,
		maxRetries:  maxRetries,
		retryBase:   retryBase,
		retryMax:    retryMax,
		handlers:    make(map[types.TaskType]Handler),
		byID:        make(map[string]*queuedJob),
		dedupIndex:  make(map[string]string),
		running:     make(map[string]*types.IndexJob),
		cancelling:  make(map[string]bool),
		recent:      ring.New(ringSize),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Register binds a task type to its handler. Call before Start.
func (w *Worker) Register(taskType types.TaskType, h Handler) {
	w.handlers[taskType] = h
}

// Start launches the configured number of consumer goroutines. Stop via ctx
// cancellation; Start returns immediately.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.loop(ctx)
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		for {
			job, ok := w.pop()
			if !ok {
				break
			}
			w.run(ctx, job)
		}
	}
}

// newJobID mints a job identifier. Index jobs are process-internal and
// short-lived, so a monotonic counter is sufficient and avoids pulling in
// a UUID generation call on every enqueue.
var jobSeq struct {
	mu sync.Mutex
	n  int64
}

func newJobID() string {
	jobSeq.mu.Lock()
	defer jobSeq.mu.Unlock()
	jobSeq.n++
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + itoa(jobSeq.n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Enqueue submits a job. Identical (task_type, memory_id) jobs already
// queued collapse into the existing one (deduped). A full queue drops the
// new job and increments the dropped counter.
func (w *Worker) Enqueue(taskType types.TaskType, memoryID, reason string) EnqueueResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	dedupKey := string(taskType) + "|" + memoryID
	if existingID, ok := w.dedupIndex[dedupKey]; ok {
		return EnqueueResult{JobID: existingID, Deduped: true}
	}

	if len(w.order) >= w.capacity {
		metrics.IndexJobsDroppedTotal.Inc()
		metrics.IndexJobsTotal.WithLabelValues(string(taskType), string(types.JobDropped)).Inc()
		return EnqueueResult{Dropped: true}
	}

	job := types.IndexJob{
		JobID:       newJobID(),
		TaskType:    taskType,
		MemoryID:    memoryID,
		Reason:      reason,
		State:       types.JobQueued,
		RequestedAt: time.Now(),
	}
	w.order = append(w.order, job.JobID)
	w.byID[job.JobID] = &queuedJob{job: job}
	w.dedupIndex[dedupKey] = job.JobID
	metrics.IndexQueueDepth.Set(float64(len(w.order)))

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return EnqueueResult{JobID: job.JobID, Queued: true}
}

func (w *Worker) pop() (types.IndexJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.order) > 0 {
		id := w.order[0]
		w.order = w.order[1:]
		qj, ok := w.byID[id]
		delete(w.byID, id)
		delete(w.dedupIndex, string(qj.job.TaskType)+"|"+qj.job.MemoryID)
		metrics.IndexQueueDepth.Set(float64(len(w.order)))
		if !ok {
			continue
		}
		if qj.job.State == types.JobCancelled {
			w.pushRecent(qj.job)
			continue
		}
		qj.job.State = types.JobRunning
		now := time.Now()
		qj.job.StartedAt = &now
		w.running[id] = &qj.job
		return qj.job, true
	}
	return types.IndexJob{}, false
}

func (w *Worker) isCancelling(jobID string) func() bool {
	return func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.cancelling[jobID]
	}
}

func (w *Worker) run(ctx context.Context, job types.IndexJob) {
	handler, ok := w.handlers[job.TaskType]
	if !ok {
		job.State = types.JobFailed
		job.Error = "no handler registered for task type: " + string(job.TaskType)
		w.finish(job)
		return
	}

	timer := metrics.NewTimer()
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if w.isCancelling(job.JobID)() {
			job.State = types.JobCancelled
			lastErr = nil
			break
		}
		err := handler(ctx, job, w.isCancelling(job.JobID))
		if err == nil {
			if w.isCancelling(job.JobID)() {
				job.State = types.JobCancelled
			} else {
				job.State = types.JobSucceeded
			}
			lastErr = nil
			break
		}
		lastErr = err
		if kind, ok := errs.KindOf(err); ok && kind == errs.JobAlreadyFinalized {
			break
		}
		if attempt < w.maxRetries {
			delay := backoffDelay(w.retryBase, w.retryMax, attempt)
			log.WithJobID(job.JobID).Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("index job failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				job.State = types.JobCancelled
				lastErr = nil
			}
		}
	}
	timer.ObserveDurationVec(metrics.IndexJobDuration, string(job.TaskType))

	if lastErr != nil {
		job.State = types.JobFailed
		job.Error = lastErr.Error()
	}
	w.finish(job)
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	return d
}

func (w *Worker) finish(job types.IndexJob) {
	now := time.Now()
	job.FinishedAt = &now

	w.mu.Lock()
	delete(w.running, job.JobID)
	delete(w.cancelling, job.JobID)
	if job.Error != "" {
		w.lastError = job.Error
	}
	w.pushRecent(job)
	w.mu.Unlock()

	metrics.IndexJobsTotal.WithLabelValues(string(job.TaskType), string(job.State)).Inc()
	log.WithJobID(job.JobID).Info().Str("task_type", string(job.TaskType)).Str("state", string(job.State)).Msg("index job finished")
}

func (w *Worker) pushRecent(job types.IndexJob) {
	w.recent.Value = job
	w.recent = w.recent.Next()
}

// Cancel transitions a job toward a terminal cancelled state. Queued jobs
// cancel immediately; running jobs move to cancelling and the handler is
// expected to notice via its cancelled() callback.
func (w *Worker) Cancel(jobID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if qj, ok := w.byID[jobID]; ok {
		qj.job.State = types.JobCancelled
		return nil
	}
	if _, ok := w.running[jobID]; ok {
		w.cancelling[jobID] = true
		return nil
	}
	return errs.New(errs.JobNotFound, "no such job: "+jobID)
}

// Retry re-enqueues a new job matching a previously finished job's task
// type and memory id, returning the new job's id. The original job is
// looked up in the recent-jobs ring since retry only makes sense for a
// job that has already reached a terminal state.
func (w *Worker) Retry(jobID, reason string) (string, error) {
	w.mu.Lock()
	var original *types.IndexJob
	w.recent.Do(func(v interface{}) {
		if v == nil || original != nil {
			return
		}
		job := v.(types.IndexJob)
		if job.JobID == jobID {
			j := job
			original = &j
		}
	})
	w.mu.Unlock()

	if original == nil {
		return "", errs.New(errs.JobNotFound, "no such finished job: "+jobID)
	}

	result := w.Enqueue(original.TaskType, original.MemoryID, reason)
	if result.Dropped {
		return "", errs.New(errs.QueueFull, "retry enqueue dropped: queue full")
	}
	return result.JobID, nil
}

// Status is a point-in-time snapshot of the worker's observable state.
type Status struct {
	QueueDepth    int
	ActiveJobIDs  []string
	CancellingIDs []string
	RecentJobs    []types.IndexJob
	LastError     string
}

// Status reports the worker's current queue depth, active jobs,
// cancelling jobs, the recent-jobs ring, and the last observed error.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{QueueDepth: len(w.order), LastError: w.lastError}
	for id := range w.running {
		s.ActiveJobIDs = append(s.ActiveJobIDs, id)
	}
	for id := range w.cancelling {
		s.CancellingIDs = append(s.CancellingIDs, id)
	}
	w.recent.Do(func(v interface{}) {
		if v == nil {
			return
		}
		s.RecentJobs = append(s.RecentJobs, v.(types.IndexJob))
	})
	return s
}
