// Package governance runs the Memory Core's background governance loop:
// vitality decay, the two-phase human-confirmed cleanup review, and sleep
// consolidation previews. All three activities share one ticker-driven
// scheduler, following the teacher's reconciliation-loop shape
// (pkg/reconciler.go: stopCh + ticker + per-cycle method decomposition)
// generalized from a single reconcile pass into three independent
// periodic activities multiplexed onto one loop.
package governance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/lane"
	"github.com/memorypalace/core/pkg/log"
	"github.com/memorypalace/core/pkg/metrics"
	"github.com/memorypalace/core/pkg/store"
	"github.com/memorypalace/core/pkg/types"
)

// Config is the governance-relevant subset of pkg/config.Config.
type Config struct {
	VitalityMax         float64
	VitalityFloor       float64
	ReinforceDelta      float64
	DecayHalfLifeDays   float64
	CleanupThreshold    float64
	CleanupInactiveDays int
	CleanupReviewTTL    time.Duration
	MaxPendingReviews   int
	SleepDedupThreshold float64
	SleepRollupMaxChars int
	SleepDedupApply     bool
	SleepRollupApply    bool
}

// Loop is the governance scheduler.
type Loop struct {
	store *store.Store
	lane  *lane.Lane
	cfg   Config

	mu        sync.Mutex
	decayedAt map[string]time.Time // memory id -> last decay tick time
	// reviews holds pending cleanup reviews in-process only. A review is
	// bounded by CleanupReviewTTL (minutes, not hours); losing one to a
	// restart just means the reviewer re-runs cleanup prepare, which is
	// cheaper than durably persisting a short-lived confirmation handle.
	reviews map[string]types.CleanupReview
}

// ConfigFrom narrows the full runtime config down to governance's tunables.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		VitalityMax:         cfg.VitalityMax,
		VitalityFloor:       cfg.VitalityFloor,
		ReinforceDelta:      cfg.ReinforceDelta,
		DecayHalfLifeDays:   cfg.DecayHalfLifeDays,
		CleanupThreshold:    cfg.CleanupThreshold,
		CleanupInactiveDays: cfg.CleanupInactiveDays,
		CleanupReviewTTL:    cfg.CleanupReviewTTL,
		MaxPendingReviews:   cfg.MaxPendingReviews,
		SleepDedupThreshold: cfg.SleepDedupThreshold,
		SleepRollupMaxChars: cfg.SleepRollupMaxChars,
		SleepDedupApply:     cfg.SleepDedupApply,
		SleepRollupApply:    cfg.SleepRollupApply,
	}
}

// New builds a Loop. Writes governance makes to the store (cleanup
// confirm, rollup synthesis) are routed through lane so they participate
// in the same per-record serialization as tool-driven writes.
func New(st *store.Store, ln *lane.Lane, cfg Config) *Loop {
	return &Loop{
		store:     st,
		lane:      ln,
		cfg:       cfg,
		decayedAt: make(map[string]time.Time),
		reviews:   make(map[string]types.CleanupReview),
	}
}

// Start launches the periodic tick loop until ctx is cancelled.
func (l *Loop) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.RunVitalityDecayOnce(time.Now()); err != nil {
					log.WithComponent("governance").Error().Err(err).Msg("vitality decay tick failed")
				}
				l.expireStaleReviews(time.Now())
			}
		}
	}()
}

// RunVitalityDecayOnce applies exponential decay to every non-deprecated
// memory's vitality score, skipping memories already decayed today (decay
// ticks are idempotent per (memory, day), spec.md §4.8).
func (l *Loop) RunVitalityDecayOnce(now time.Time) error {
	memories, err := l.store.ListAllMemories()
	if err != nil {
		return err
	}

	ticked := 0
	for _, m := range memories {
		if m.Deprecated {
			continue
		}
		if l.alreadyDecayedToday(m.ID, now) {
			continue
		}

		last := l.lastDecay(m.ID, m)
		deltaDays := now.Sub(last).Hours() / 24
		if deltaDays <= 0 {
			l.markDecayed(m.ID, now)
			continue
		}

		decayed := m.VitalityScore * math.Exp(-math.Ln2*deltaDays/l.cfg.DecayHalfLifeDays)
		if decayed < l.cfg.VitalityFloor {
			decayed = l.cfg.VitalityFloor
		}
		if err := l.store.SetVitality(m.ID, decayed, false); err != nil {
			return err
		}
		l.markDecayed(m.ID, now)
		ticked++
	}
	metrics.VitalityDecayTicksTotal.Add(float64(ticked))
	return nil
}

func (l *Loop) alreadyDecayedToday(memoryID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.decayedAt[memoryID]
	if !ok {
		return false
	}
	return sameDay(last, now)
}

func (l *Loop) lastDecay(memoryID string, m types.Memory) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.decayedAt[memoryID]; ok {
		return last
	}
	return m.UpdatedAt
}

func (l *Loop) markDecayed(memoryID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decayedAt[memoryID] = now
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Reinforce bumps a memory's vitality on access, per spec.md §4.8.
func (l *Loop) Reinforce(memoryID string) error {
	mem, err := l.store.GetMemory(memoryID)
	if err != nil {
		return err
	}
	score := mem.VitalityScore + l.cfg.ReinforceDelta
	if score > l.cfg.VitalityMax {
		score = l.cfg.VitalityMax
	}
	return l.store.SetVitality(memoryID, score, true)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

var phraseWords = []string{"violet", "harbor", "cinder", "lantern", "maple", "quartz", "falcon", "meadow", "ember", "willow"}

func randomPhrase() string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	w1 := phraseWords[int(b[0])%len(phraseWords)]
	w2 := phraseWords[int(b[1])%len(phraseWords)]
	return fmt.Sprintf("%s-%s-%s", w1, w2, randomHex(2))
}

// PrepareResult is the outcome of PrepareCleanup.
type PrepareResult struct {
	Review types.CleanupReview
}

// PrepareCleanup validates selections against current store state and
// opens a CleanupReview (spec.md §4.8 cleanup prepare phase).
func (l *Loop) PrepareCleanup(reviewer string, action types.ReviewAction, selections []types.Selection) (PrepareResult, error) {
	l.mu.Lock()
	pending := len(l.reviews)
	l.mu.Unlock()
	if pending >= l.cfg.MaxPendingReviews {
		return PrepareResult{}, errs.New(errs.PendingReviewsFull, "too many pending cleanup reviews")
	}

	for _, sel := range selections {
		current, err := l.store.StateHash(sel.MemoryID)
		if err != nil {
			return PrepareResult{}, err
		}
		if current != sel.StateHash {
			return PrepareResult{}, errs.New(errs.StaleState, "state_hash mismatch for memory: "+sel.MemoryID)
		}
	}

	review := types.CleanupReview{
		ReviewID:           uuid.NewString(),
		Token:              randomHex(16),
		Action:             action,
		Reviewer:           reviewer,
		Selections:         selections,
		ConfirmationPhrase: randomPhrase(),
		ExpiresAt:          time.Now().Add(l.cfg.CleanupReviewTTL),
	}

	l.mu.Lock()
	l.reviews[review.ReviewID] = review
	l.mu.Unlock()
	metrics.PendingReviews.Set(float64(pending + 1))

	return PrepareResult{Review: review}, nil
}

// ConfirmOutcome tallies per-selection results from ConfirmCleanup.
type ConfirmOutcome struct {
	Deleted int
	Kept    int
	Skipped int
}

// ConfirmCleanup validates the token and confirmation phrase, then applies
// the review's action to every selection (spec.md §4.8 cleanup confirm
// phase). A token or phrase mismatch leaves the review pending, so a later
// confirm with the right values can still succeed. A matching confirm
// removes the review before applying it, so a repeat returns
// review_not_found. An expired review is removed and rejected with
// review_expired; an unknown id is rejected with review_not_found.
func (l *Loop) ConfirmCleanup(reviewID, token, confirmationPhrase string) (ConfirmOutcome, error) {
	l.mu.Lock()
	review, ok := l.reviews[reviewID]
	l.mu.Unlock()
	if !ok {
		return ConfirmOutcome{}, errs.New(errs.ReviewNotFound, "no such cleanup review: "+reviewID)
	}
	if time.Now().After(review.ExpiresAt) {
		l.removeReview(reviewID)
		return ConfirmOutcome{}, errs.New(errs.ReviewExpired, "cleanup review expired: "+reviewID)
	}
	if token != review.Token || confirmationPhrase != review.ConfirmationPhrase {
		return ConfirmOutcome{}, errs.New(errs.ConfirmationMismatch, "token or confirmation phrase did not match")
	}

	l.removeReview(reviewID)

	// Selections apply concurrently (still serialized per-record by the
	// lane itself) instead of one at a time, so a review with many
	// memories doesn't pay their combined latency serially. The group's
	// context cancels the rest on the first failure, and Wait still
	// reports that failure to the caller.
	var deleted, kept, skipped int64
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(8)
	for _, sel := range review.Selections {
		sel := sel
		switch review.Action {
		case types.ActionDelete:
			g.Go(func() error {
				canDelete, err := l.store.CanDelete(sel.MemoryID)
				if err != nil {
					return err
				}
				if !canDelete {
					atomic.AddInt64(&skipped, 1)
					return nil
				}
				if err := l.lane.Run(gctx, sel.MemoryID, func() error {
					return l.store.PhysicallyDelete(sel.MemoryID)
				}); err != nil {
					return err
				}
				atomic.AddInt64(&deleted, 1)
				return nil
			})
		case types.ActionKeep:
			g.Go(func() error {
				if err := l.lane.Run(gctx, sel.MemoryID, func() error {
					return l.store.SetVitality(sel.MemoryID, l.cfg.VitalityMax, false)
				}); err != nil {
					return err
				}
				atomic.AddInt64(&kept, 1)
				return nil
			})
		}
	}
	waitErr := g.Wait()

	outcome := ConfirmOutcome{
		Deleted: int(atomic.LoadInt64(&deleted)),
		Kept:    int(atomic.LoadInt64(&kept)),
		Skipped: int(atomic.LoadInt64(&skipped)),
	}
	metrics.CleanupOutcomesTotal.WithLabelValues("deleted").Add(float64(outcome.Deleted))
	metrics.CleanupOutcomesTotal.WithLabelValues("kept").Add(float64(outcome.Kept))
	metrics.CleanupOutcomesTotal.WithLabelValues("skipped").Add(float64(outcome.Skipped))
	return outcome, waitErr
}

func (l *Loop) removeReview(reviewID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reviews, reviewID)
	metrics.PendingReviews.Set(float64(len(l.reviews)))
}

func (l *Loop) expireStaleReviews(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, r := range l.reviews {
		if now.After(r.ExpiresAt) {
			delete(l.reviews, id)
		}
	}
	metrics.PendingReviews.Set(float64(len(l.reviews)))
}

// CleanupCandidates surfaces memories eligible for a cleanup review,
// delegating the threshold/inactivity scan to the store.
func (l *Loop) CleanupCandidates(limit int) ([]types.Memory, error) {
	return l.store.ListCleanupCandidates(l.cfg.CleanupThreshold, l.cfg.CleanupInactiveDays, limit)
}
