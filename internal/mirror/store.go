package mirror

import "context"

// Store is the secondary, path-keyed record store the triggers write to.
// Paths are slash-separated, e.g. "users/u1" or "users/u1/pages/p1".
//
// Implementations must make Delete of an absent path a no-op and Put an
// unconditional overwrite: every write the triggers issue is derived from a
// single event, and redelivery must converge rather than error.
type Store interface {
	// Put stores fields at path, replacing any existing record.
	Put(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the record at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Get returns the record at path, and whether it exists.
	Get(ctx context.Context, path string) (map[string]any, bool, error)

	// List returns all records whose path starts with prefix, keyed by path.
	List(ctx context.Context, prefix string) (map[string]map[string]any, error)

	// ValidateSetup verifies the store is reachable and properly configured.
	ValidateSetup(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ProfilePath is the secondary-store location of a user's profile record.
func ProfilePath(uid string) string {
	return "users/" + uid
}

// EntryPath is the secondary-store location of a mirrored document under
// its owner.
func EntryPath(ownerID, documentID string) string {
	return "users/" + ownerID + "/pages/" + documentID
}

// EntriesPrefix is the listing prefix for all of one owner's mirrored
// documents.
func EntriesPrefix(ownerID string) string {
	return "users/" + ownerID + "/pages/"
}

// OpKind distinguishes the two operations a plan can contain.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "put"
}

// StoreOp is one planned secondary-store operation. Plans are produced by
// pure functions over a single event and applied in order by the Service.
type StoreOp struct {
	Kind   OpKind
	Path   string
	Fields map[string]any // nil for deletes
}
