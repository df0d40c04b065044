// Package types defines the core data model shared across the memory
// store, write guard, snapshot ledger, index worker and governance loop.
package types

import "time"

// Memory is a single long-term memory record.
type Memory struct {
	ID               string    `json:"id"`
	Content          string    `json:"content"`
	Priority         int       `json:"priority"`
	Disclosure       string    `json:"disclosure,omitempty"`
	VitalityScore    float64   `json:"vitality_score"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastAccessedAt   time.Time `json:"last_accessed_at"`
	AccessCount      int64     `json:"access_count"`
	Deprecated       bool      `json:"deprecated"`
	MigratedTo       string    `json:"migrated_to,omitempty"`
	ContentHash      string    `json:"content_hash"`
}

// Address is a parsed domain://path reference.
type Address struct {
	Domain string
	Path   string
}

// String renders the address back to its domain://path form.
func (a Address) String() string {
	return a.Domain + "://" + a.Path
}

// Path maps a (domain, path) tuple to a memory id. One memory may have many
// paths (aliases).
type Path struct {
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	MemoryID string `json:"memory_id"`
	Alias    bool   `json:"alias"`
}

// Address returns the domain://path form of the path.
func (p Path) Address() string {
	return p.Domain + "://" + p.Path
}

// Gist is a short summary of a memory, keyed by content hash.
type Gist struct {
	MemoryID         string    `json:"memory_id"`
	SourceContentHash string   `json:"source_content_hash"`
	GistText         string    `json:"gist_text"`
	GistMethod       string    `json:"gist_method"`
	Quality          float64   `json:"quality"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ResourceType distinguishes what a Snapshot's resource_id refers to.
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourcePath   ResourceType = "path"
)

// OperationType is the kind of mutation a Snapshot precedes.
type OperationType string

const (
	OpCreate      OperationType = "create"
	OpModifyContent OperationType = "modify_content"
	OpModifyMeta  OperationType = "modify_meta"
	OpDelete      OperationType = "delete"
	OpCreateAlias OperationType = "create_alias"
)

// Snapshot is a per-session pre-mutation record enabling diff and rollback.
type Snapshot struct {
	SessionID    string        `json:"session_id"`
	ResourceID   string        `json:"resource_id"`
	ResourceType ResourceType  `json:"resource_type"`
	OperationType OperationType `json:"operation_type"`
	SnapshotTime time.Time     `json:"snapshot_time"`
	PreState     []byte        `json:"pre_state"`
}

// Key is the (session_id, resource_id) review key.
func (s Snapshot) Key() string {
	return s.SessionID + "|" + s.ResourceID
}

// TaskType identifies the kind of background index job.
type TaskType string

const (
	TaskRebuildIndex       TaskType = "rebuild_index"
	TaskReindexMemory      TaskType = "reindex_memory"
	TaskSleepConsolidation TaskType = "sleep_consolidation"
)

// JobState is a state in the IndexJob state machine.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCancelling JobState = "cancelling"
	JobCancelled JobState = "cancelled"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobDropped   JobState = "dropped"
)

// Terminal reports whether a JobState is stable (no further transitions).
func (s JobState) Terminal() bool {
	switch s {
	case JobCancelled, JobSucceeded, JobFailed, JobDropped:
		return true
	default:
		return false
	}
}

// IndexJob is a unit of background index work.
type IndexJob struct {
	JobID         string     `json:"job_id"`
	TaskType      TaskType   `json:"task_type"`
	MemoryID      string     `json:"memory_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	State         JobState   `json:"state"`
	RequestedAt   time.Time  `json:"requested_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	DegradeReasons []string  `json:"degrade_reasons,omitempty"`
}

// DedupKey identifies jobs that should collapse while queued.
func (j IndexJob) DedupKey() string {
	return string(j.TaskType) + "|" + j.MemoryID
}

// ReviewAction is the action a CleanupReview will apply on confirm.
type ReviewAction string

const (
	ActionDelete ReviewAction = "delete"
	ActionKeep   ReviewAction = "keep"
)

// Selection is one candidate memory submitted for cleanup review.
type Selection struct {
	MemoryID  string `json:"memory_id"`
	StateHash string `json:"state_hash"`
}

// CleanupReview is a two-phase, human-confirmed cleanup request.
type CleanupReview struct {
	ReviewID            string       `json:"review_id"`
	Token               string       `json:"token"`
	Action              ReviewAction `json:"action"`
	Reviewer             string       `json:"reviewer"`
	Selections           []Selection  `json:"selections"`
	ConfirmationPhrase   string       `json:"confirmation_phrase"`
	ExpiresAt            time.Time    `json:"expires_at"`
}
