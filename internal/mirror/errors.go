package mirror

import "fmt"

// MalformedEventError marks an event that cannot be processed regardless of
// how many times it is redelivered: missing owner, missing id, bad JSON.
// Handlers skip these with a warning instead of failing the delivery.
type MalformedEventError struct {
	Event  string // event name, e.g. "document-changed"
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Event, e.Reason)
}

// TransientError wraps a store failure that is expected to succeed on
// redelivery (store unreachable, lock contention). Backends wrap their
// I/O failures in this so the dispatcher knows a retry is worthwhile.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// OrphanCleanupError reports that the delete half of an ownership-transfer
// update failed after the write half succeeded. The mirror now holds a stale
// entry under the old owner until the event is redelivered; both halves are
// idempotent, so the retry converges.
type OrphanCleanupError struct {
	DocumentID string
	StalePath  string
	Err        error
}

func (e *OrphanCleanupError) Error() string {
	return fmt.Sprintf("orphan cleanup failed for document %s at %s: %v", e.DocumentID, e.StalePath, e.Err)
}

func (e *OrphanCleanupError) Unwrap() error { return e.Err }
