package chronicle

import (
	"context"
	"fmt"
)

// grouper assigns the shared transaction id linking all versions written
// within one unit of work. The first version appended claims its own id as
// the group id and is tagged with it self-referentially; later versions are
// stamped from the slot before they are appended.
type grouper struct {
	store VersionStore
}

// stamp copies the unit of work's transaction id onto a version about to be
// appended, when one has already been claimed.
func (g *grouper) stamp(ctx context.Context, v *Version) {
	uow, ok := unitOfWorkFromContext(ctx)
	if !ok {
		return
	}
	uow.mu.Lock()
	defer uow.mu.Unlock()
	if uow.transactionID != nil {
		id := *uow.transactionID
		v.TransactionID = &id
	}
}

// beginIfAbsent claims the just-appended version's id as the unit of work's
// transaction id when no id is set, the store confirms an active
// transactional context, and the schema supports grouping. The claimed id is
// persisted back onto the version row.
func (g *grouper) beginIfAbsent(ctx context.Context, v *Version) error {
	uow, ok := unitOfWorkFromContext(ctx)
	if !ok {
		return nil
	}

	uow.mu.Lock()
	defer uow.mu.Unlock()
	if uow.transactionID != nil {
		return nil
	}
	if !g.store.InTransaction(ctx) {
		return nil
	}
	supported, err := g.store.HasColumn(ctx, "versions", "transaction_id")
	if err != nil || !supported {
		return err
	}

	id := v.ID
	if err := g.store.TagTransaction(ctx, v.ID, id); err != nil {
		return fmt.Errorf("failed to tag transaction group: %w", err)
	}
	uow.transactionID = &id
	v.TransactionID = &id
	return nil
}

// resetFor clears the unit of work's transaction slot. Called on both commit
// and rollback so the slot never bleeds into the next unit of work.
func (g *grouper) resetFor(ctx context.Context) {
	if uow, ok := unitOfWorkFromContext(ctx); ok {
		uow.reset()
	}
}
