package mirror

import (
	"encoding/json"
	"fmt"
	"time"
)

// ownerField is the document field that routes a record to its owner's
// subtree in the mirror.
const ownerField = "ownerId"

// Identity is an authentication principal created by the upstream auth
// provider. It is read-only to this service.
type Identity struct {
	UID        string
	Email      string
	OccurredAt time.Time // zero when the event carries no timestamp
}

// DocumentRecord is one state of a primary-store document. OwnerID is
// extracted from the record's fields; Fields holds the complete payload
// verbatim, including the owner field itself.
type DocumentRecord struct {
	OwnerID string
	Fields  map[string]any
}

// NewDocumentRecord wraps a raw field map, extracting the owner id.
// A missing or non-string owner field leaves OwnerID empty; the planner
// decides what to do about that.
func NewDocumentRecord(fields map[string]any) *DocumentRecord {
	rec := &DocumentRecord{Fields: fields}
	if owner, ok := fields[ownerField].(string); ok {
		rec.OwnerID = owner
	}
	return rec
}

// DocumentChange is one lifecycle event of a primary-store document.
// Before and After are nil when the document was absent on that side of
// the change.
type DocumentChange struct {
	ID     string
	Before *DocumentRecord
	After  *DocumentRecord
}

// ChangeKind classifies a DocumentChange by the presence of its before
// and after states.
type ChangeKind int

const (
	ChangeInvalid ChangeKind = iota
	ChangeCreated
	ChangeUpdated
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	default:
		return "invalid"
	}
}

// Kind derives the change classification from the before/after pair.
func (c *DocumentChange) Kind() ChangeKind {
	switch {
	case c.Before == nil && c.After != nil:
		return ChangeCreated
	case c.Before != nil && c.After != nil:
		return ChangeUpdated
	case c.Before != nil && c.After == nil:
		return ChangeDeleted
	default:
		return ChangeInvalid
	}
}

// identityPayload is the wire shape of an identity-created event.
type identityPayload struct {
	UID        string `json:"uid"`
	Email      string `json:"email"`
	OccurredAt int64  `json:"occurredAt,omitempty"` // epoch millis, optional
}

// DecodeIdentityCreated parses an identity-created event payload.
// A missing uid is a malformed event: there is no key to provision under.
func DecodeIdentityCreated(data []byte) (Identity, error) {
	var p identityPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Identity{}, &MalformedEventError{Event: "identity-created", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if p.UID == "" {
		return Identity{}, &MalformedEventError{Event: "identity-created", Reason: "missing uid"}
	}
	id := Identity{UID: p.UID, Email: p.Email}
	if p.OccurredAt > 0 {
		id.OccurredAt = time.UnixMilli(p.OccurredAt).UTC()
	}
	return id, nil
}

// documentPayload is the wire shape of a document-changed event.
type documentPayload struct {
	ID     string         `json:"id"`
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

// DecodeDocumentChange parses a document-changed event payload.
// Absent before/after states arrive as JSON null and decode to nil records.
func DecodeDocumentChange(data []byte) (DocumentChange, error) {
	var p documentPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return DocumentChange{}, &MalformedEventError{Event: "document-changed", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if p.ID == "" {
		return DocumentChange{}, &MalformedEventError{Event: "document-changed", Reason: "missing id"}
	}
	ch := DocumentChange{ID: p.ID}
	if p.Before != nil {
		ch.Before = NewDocumentRecord(p.Before)
	}
	if p.After != nil {
		ch.After = NewDocumentRecord(p.After)
	}
	if ch.Kind() == ChangeInvalid {
		return DocumentChange{}, &MalformedEventError{Event: "document-changed", Reason: "both before and after are absent"}
	}
	return ch, nil
}
