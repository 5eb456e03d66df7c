package mirror

import (
	"maps"
	"time"
)

// PlanProvision returns the operations that provision a profile record for a
// newly created identity. The record is keyed by uid, so duplicate deliveries
// overwrite with identical content and converge.
//
// created is taken from the event when the provider stamped one, otherwise
// from now. Using the event time keeps redeliveries convergent.
func PlanProvision(id Identity, now time.Time) []StoreOp {
	created := id.OccurredAt
	if created.IsZero() {
		created = now
	}
	return []StoreOp{{
		Kind: OpPut,
		Path: ProfilePath(id.UID),
		Fields: map[string]any{
			"email":   id.Email,
			"uid":     id.UID,
			"created": created.UnixMilli(),
		},
	}}
}

// PlanDocumentChange returns the operations that bring the mirror in line
// with a single document lifecycle event.
//
// Every operation is derived from the event's own before/after pair; the
// mirror is never read first. That is what makes concurrent and out-of-order
// delivery safe: a stale invocation can overwrite with its own (stale) after
// state, but it can never launder a stale read back into the store.
//
// On an ownership transfer the put under the new owner precedes the delete
// under the old one, so a failure between the two leaves a duplicate entry
// (repaired by redelivery) rather than a window with no entry at all.
func PlanDocumentChange(c DocumentChange) ([]StoreOp, error) {
	switch c.Kind() {
	case ChangeCreated:
		if c.After.OwnerID == "" {
			return nil, &MalformedEventError{Event: "document-changed", Reason: "create without " + ownerField}
		}
		return []StoreOp{putEntry(c.After, c.ID)}, nil

	case ChangeDeleted:
		// The after state has no owner to address; the pre-delete owner
		// locates the entry.
		if c.Before.OwnerID == "" {
			return nil, &MalformedEventError{Event: "document-changed", Reason: "delete without " + ownerField + " in before state"}
		}
		return []StoreOp{{Kind: OpDelete, Path: EntryPath(c.Before.OwnerID, c.ID)}}, nil

	case ChangeUpdated:
		if c.After.OwnerID == "" {
			return nil, &MalformedEventError{Event: "document-changed", Reason: "update without " + ownerField}
		}
		ops := []StoreOp{putEntry(c.After, c.ID)}
		if c.Before.OwnerID != "" && c.Before.OwnerID != c.After.OwnerID {
			// Ownership transfer: without this delete the entry under the
			// old owner would linger forever.
			ops = append(ops, StoreOp{Kind: OpDelete, Path: EntryPath(c.Before.OwnerID, c.ID)})
		}
		return ops, nil

	default:
		return nil, &MalformedEventError{Event: "document-changed", Reason: "both before and after are absent"}
	}
}

// putEntry builds the put operation for a document's current state. Fields
// are copied so later mutation of the event payload cannot leak into the
// store.
func putEntry(rec *DocumentRecord, documentID string) StoreOp {
	return StoreOp{
		Kind:   OpPut,
		Path:   EntryPath(rec.OwnerID, documentID),
		Fields: maps.Clone(rec.Fields),
	}
}
