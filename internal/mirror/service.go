package mirror

import (
	"context"
	"errors"
	"fmt"
)

// Service applies the trigger contracts against a secondary store. It is
// stateless: every invocation works only on the event it receives, so
// concurrent invocations for different documents never interact and
// redelivery of the same event converges.
type Service struct {
	store  Store
	logger Logger
	clock  Clock
}

// NewService creates a Service with the provided dependencies.
func NewService(store Store, logger Logger, clock Clock) *Service {
	return &Service{store: store, logger: logger, clock: clock}
}

// HandleIdentityCreated provisions the profile record for a new identity.
// A store failure propagates so the dispatcher can redeliver; leaving an
// identity permanently without a profile is worse than a duplicate write.
func (s *Service) HandleIdentityCreated(ctx context.Context, id Identity) error {
	if id.UID == "" {
		s.logger.Warn("identity event skipped", "reason", "missing uid")
		return nil
	}

	for _, op := range PlanProvision(id, s.clock.Now()) {
		if err := s.store.Put(ctx, op.Path, op.Fields); err != nil {
			return fmt.Errorf("provisioning profile at %s: %w", op.Path, err)
		}
	}

	s.logger.Info("profile provisioned", "uid", id.UID)
	return nil
}

// HandleDocumentChange brings the per-owner mirror in line with one document
// lifecycle event. Malformed events (no owner to route by) are skipped with a
// warning and acknowledged, since redelivery cannot repair a bad payload.
// Store failures propagate for redelivery.
func (s *Service) HandleDocumentChange(ctx context.Context, c DocumentChange) error {
	ops, err := PlanDocumentChange(c)
	if err != nil {
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			s.logger.Warn("document event skipped", "doc", c.ID, "reason", malformed.Reason)
			return nil
		}
		return err
	}

	for i, op := range ops {
		if err := s.applyOp(ctx, op); err != nil {
			// A failed delete after a successful put is the ownership-transfer
			// cleanup half: the mirror now holds a stale entry under the old
			// owner. Logged distinctly, and still returned so the dispatcher
			// redelivers; both halves are idempotent.
			if i > 0 && op.Kind == OpDelete {
				cleanupErr := &OrphanCleanupError{DocumentID: c.ID, StalePath: op.Path, Err: err}
				s.logger.Error("orphan cleanup failed", "doc", c.ID, "stale_path", op.Path, "error", err)
				return cleanupErr
			}
			return fmt.Errorf("applying %s at %s for document %s: %w", op.Kind, op.Path, c.ID, err)
		}
	}

	s.logger.Info("document mirrored", "doc", c.ID, "kind", c.Kind().String(), "ops", len(ops))
	return nil
}

func (s *Service) applyOp(ctx context.Context, op StoreOp) error {
	if op.Kind == OpDelete {
		return s.store.Delete(ctx, op.Path)
	}
	return s.store.Put(ctx, op.Path, op.Fields)
}
