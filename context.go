package chronicle

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type contextKey string

const (
	actorKey    contextKey = "chronicle.actor"
	metadataKey contextKey = "chronicle.metadata"
	uowKey      contextKey = "chronicle.unitOfWork"
)

// ContextWithActor returns a context carrying the actor recorded as
// whodunnit on every version written under it.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the current actor, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// ContextWithMetadata returns a context carrying ambient request-scoped
// metadata merged into every version written under it.
func ContextWithMetadata(ctx context.Context, meta map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metadataKey, meta)
}

// MetadataFromContext retrieves the ambient metadata, if any.
func MetadataFromContext(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	meta, _ := ctx.Value(metadataKey).(map[string]any)
	return meta
}

// unitOfWork is the per-unit-of-work mutable state: the shared transaction
// id slot and the set of items whose cached version collections must be
// invalidated on rollback. It lives on the context, never in a package
// variable, so concurrent units of work cannot observe each other's slot.
type unitOfWork struct {
	mu            sync.Mutex
	transactionID *uuid.UUID
	touched       map[itemKey]struct{}
}

// BeginUnitOfWork returns a context with a fresh unit-of-work scope. All
// versions written under the returned context share one transaction id, and
// the tracker's RollbackUnitOfWork/CommitUnitOfWork operate on this scope.
func BeginUnitOfWork(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, uowKey, &unitOfWork{touched: make(map[itemKey]struct{})})
}

func unitOfWorkFromContext(ctx context.Context) (*unitOfWork, bool) {
	if ctx == nil {
		return nil, false
	}
	uow, ok := ctx.Value(uowKey).(*unitOfWork)
	return uow, ok
}

func (u *unitOfWork) touch(key itemKey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.touched[key] = struct{}{}
}

func (u *unitOfWork) touchedItems() []itemKey {
	u.mu.Lock()
	defer u.mu.Unlock()
	keys := make([]itemKey, 0, len(u.touched))
	for key := range u.touched {
		keys = append(keys, key)
	}
	return keys
}

// reset clears the transaction slot and touched set so state cannot bleed
// into a reused context.
func (u *unitOfWork) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.transactionID = nil
	u.touched = make(map[itemKey]struct{})
}
