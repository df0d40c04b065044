// Package snapshot implements the Snapshot Ledger: a per-session,
// per-resource pre-mutation record that enables diff and rollback of
// writes made earlier in the same session. Every content-affecting write
// passing through the Write Lane records one entry here before the store
// mutates; Rollback is itself routed back through the Write Lane since it
// is a write in its own right (spec.md §4.5).
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/memorypalace/core/pkg/errs"
	"github.com/memorypalace/core/pkg/types"
)

// ContentStore is the view of pkg/store the ledger needs: diffing and
// restoring memory content, plus durable storage for pending snapshots so
// a rollback survives a process restart (spec.md §4.5, §3 Snapshot entity
// — "Removed only by Review approve/rollback/clear" implies a snapshot
// outlives more than the in-process call stack that created it). Kept as
// an interface so the ledger can be tested without a real bbolt file.
type ContentStore interface {
	RawMemoryJSON(memoryID string) ([]byte, error)
	RestoreContent(memoryID string, preState []byte) error
	PutSnapshot(s types.Snapshot) error
	DeleteSnapshot(key string) error
	ListSnapshots() ([]types.Snapshot, error)
}

// Ledger is the snapshot table: an in-memory index over entries durably
// persisted in store's snapshots bucket. Capture/Discard/Approve/Rollback
// write through to the bucket so a pending review is never lost to a
// restart; byKey exists so lookups and session listings don't round-trip
// through bolt on every call.
type Ledger struct {
	mu    sync.Mutex
	byKey map[string]types.Snapshot // (session_id|resource_id) -> snapshot
	store ContentStore
}

// New builds a Ledger backed by store, warming byKey from any snapshots
// left pending by a previous process.
func New(store ContentStore) (*Ledger, error) {
	l := &Ledger{byKey: make(map[string]types.Snapshot), store: store}
	persisted, err := store.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to warm ledger: %w", err)
	}
	for _, s := range persisted {
		l.byKey[s.Key()] = s
	}
	return l, nil
}

// Capture records the pre-state for a resource about to be mutated. It is
// called by the Write Lane after the Write Guard and before the store
// mutate; callers pass the exact bytes the store currently holds.
func (l *Ledger) Capture(sessionID, resourceID string, resourceType types.ResourceType, op types.OperationType, preState []byte) error {
	s := types.Snapshot{
		SessionID:     sessionID,
		ResourceID:    resourceID,
		ResourceType:  resourceType,
		OperationType: op,
		SnapshotTime:  time.Now(),
		PreState:      preState,
	}
	if err := l.store.PutSnapshot(s); err != nil {
		return fmt.Errorf("snapshot: failed to persist capture for %s: %w", resourceID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey[s.Key()] = s
	return nil
}

// Discard removes a just-captured snapshot without restoring anything. It
// is used when a store mutate fails to happen at all after Capture, so no
// phantom review is ever left behind (spec.md §4.4).
func (l *Ledger) Discard(sessionID, resourceID string) error {
	key := sessionID + "|" + resourceID
	if err := l.store.DeleteSnapshot(key); err != nil {
		return fmt.Errorf("snapshot: failed to discard %s: %w", resourceID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, key)
	return nil
}

// List returns all pending snapshots for a session, most recent first.
func (l *Ledger) List(sessionID string) []types.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.Snapshot
	for _, s := range l.byKey {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotTime.After(out[j].SnapshotTime) })
	return out
}

// Diff is a pre-state vs current-state comparison for one resource.
type Diff struct {
	ResourceID    string
	OperationType types.OperationType
	PreContent    string
	CurrentContent string
	Changed       bool
}

// Diff compares a snapshot's pre-state against the store's current state.
func (l *Ledger) Diff(sessionID, resourceID string) (Diff, error) {
	l.mu.Lock()
	s, ok := l.byKey[sessionID+"|"+resourceID]
	l.mu.Unlock()
	if !ok {
		return Diff{}, errs.New(errs.InvalidRequest, "no pending snapshot for resource: "+resourceID)
	}

	var preMem types.Memory
	if err := json.Unmarshal(s.PreState, &preMem); err != nil {
		return Diff{}, fmt.Errorf("snapshot: corrupt pre_state for %s: %w", resourceID, err)
	}

	currentRaw, err := l.store.RawMemoryJSON(resourceID)
	if err != nil {
		return Diff{}, err
	}
	var currentMem types.Memory
	if err := json.Unmarshal(currentRaw, &currentMem); err != nil {
		return Diff{}, fmt.Errorf("snapshot: corrupt current state for %s: %w", resourceID, err)
	}

	return Diff{
		ResourceID:     resourceID,
		OperationType:  s.OperationType,
		PreContent:     preMem.Content,
		CurrentContent: currentMem.Content,
		Changed:        preMem.Content != currentMem.Content,
	}, nil
}

// Rollback atomically restores a resource's pre-state into the store and
// removes the snapshot. Callers must hold the appropriate Write Lane token
// for resourceID before calling Rollback; the ledger itself does not
// acquire lane tokens since it has no reference to the lane.
func (l *Ledger) Rollback(sessionID, resourceID string) error {
	l.mu.Lock()
	s, ok := l.byKey[sessionID+"|"+resourceID]
	l.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidRequest, "no pending snapshot for resource: "+resourceID)
	}

	if err := l.store.RestoreContent(resourceID, s.PreState); err != nil {
		return err
	}
	key := sessionID + "|" + resourceID
	if err := l.store.DeleteSnapshot(key); err != nil {
		return fmt.Errorf("snapshot: failed to clear persisted snapshot for %s: %w", resourceID, err)
	}

	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
	return nil
}

// Approve removes a snapshot without restoring anything, accepting the
// write that produced it as final.
func (l *Ledger) Approve(sessionID, resourceID string) error {
	key := sessionID + "|" + resourceID
	l.mu.Lock()
	_, ok := l.byKey[key]
	l.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidRequest, "no pending snapshot for resource: "+resourceID)
	}
	if err := l.store.DeleteSnapshot(key); err != nil {
		return fmt.Errorf("snapshot: failed to approve %s: %w", resourceID, err)
	}
	l.mu.Lock()
	delete(l.byKey, key)
	l.mu.Unlock()
	return nil
}

// Clear removes every pending snapshot for a session.
func (l *Ledger) Clear(sessionID string) (int, error) {
	l.mu.Lock()
	var keys []string
	for k, s := range l.byKey {
		if s.SessionID == sessionID {
			keys = append(keys, k)
		}
	}
	l.mu.Unlock()

	for _, k := range keys {
		if err := l.store.DeleteSnapshot(k); err != nil {
			return 0, fmt.Errorf("snapshot: failed to clear session %s: %w", sessionID, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := l.byKey[k]; ok {
			delete(l.byKey, k)
			n++
		}
	}
	return n, nil
}
