// Package errs defines the semantic error kinds the memory core returns.
//
// Correctness-critical failures carry a Kind so callers (the HTTP control
// plane, the tool surface) can map them to machine-readable reason codes
// without parsing error strings. Degrade-tolerant stages never construct a
// CoreError; they append to a degrade_reasons list instead.
package errs

import "fmt"

// Kind is a machine-readable error reason code.
type Kind string

const (
	InvalidDomain          Kind = "invalid_domain"
	InvalidPath            Kind = "invalid_path"
	InvalidTitle           Kind = "invalid_title"
	InvalidPriority        Kind = "invalid_priority"
	AddressNotFound        Kind = "address_not_found"
	AddressAmbiguousPatch  Kind = "address_ambiguous_patch"
	PatchNotFound          Kind = "patch_not_found"
	PatchAmbiguous         Kind = "patch_ambiguous"
	LaneTimeout            Kind = "lane_timeout"
	StaleState             Kind = "stale_state"
	QueueFull              Kind = "queue_full"
	IndexEnqueueDropped    Kind = "index_enqueue_dropped"
	JobNotFound            Kind = "job_not_found"
	JobAlreadyFinalized    Kind = "job_already_finalized"
	InvalidAPIKey          Kind = "invalid_or_missing_api_key"
	APIKeyNotConfigured    Kind = "api_key_not_configured"
	InsecureLocalOverride  Kind = "insecure_local_override_requires_loopback"
	ConfirmationMismatch   Kind = "confirmation_phrase_mismatch"
	ReviewExpired          Kind = "review_expired"
	ReviewNotFound         Kind = "review_not_found"
	PendingReviewsFull     Kind = "pending_reviews_full"
	EmbeddingRequestFailed Kind = "embedding_request_failed"
	RerankerRequestFailed  Kind = "reranker_request_failed"
	WriteGuardException    Kind = "write_guard_exception"
	CompactGistLLMEmpty    Kind = "compact_gist_llm_empty"
	QueryPreprocessFailed  Kind = "query_preprocess_failed"
	MigrationLockTimeout   Kind = "migration_lock_timeout"
	MigrationChecksumBad   Kind = "migration_checksum_mismatch"
	InvalidRequest         Kind = "invalid_request"
	WaitTimeout            Kind = "wait_timeout"
)

// CoreError is a typed error carrying a machine-readable Kind.
type CoreError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError with no wrapped cause.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *CoreError.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if err == nil {
		return "", false
	}
	if ce2, ok := err.(*CoreError); ok {
		return ce2.Kind, true
	}
	_ = ce
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if ce2, ok := err.(*CoreError); ok {
			return ce2.Kind, true
		}
	}
	return "", false
}
