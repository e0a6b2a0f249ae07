package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjhale/chronicle"
)

func newVersion(itemID string, at time.Time) *chronicle.Version {
	return &chronicle.Version{
		ID:        uuid.New(),
		ItemType:  "Widget",
		ItemID:    itemID,
		Event:     chronicle.EventUpdate,
		CreatedAt: at,
	}
}

func TestMemoryStore_AppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := newVersion("1", time.Unix(100, 0))
	second := newVersion("1", time.Unix(100, 0))
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
}

func TestMemoryStore_VersionsOrderedWithTieBreak(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	late := newVersion("1", time.Unix(200, 0))
	tieA := newVersion("1", time.Unix(100, 0))
	tieB := newVersion("1", time.Unix(100, 0))
	require.NoError(t, s.Append(ctx, late))
	require.NoError(t, s.Append(ctx, tieA))
	require.NoError(t, s.Append(ctx, tieB))

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, tieA.ID, out[0].ID)
	assert.Equal(t, tieB.ID, out[1].ID)
	assert.Equal(t, late.ID, out[2].ID)
}

func TestMemoryStore_VersionsTimeRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Append(ctx, newVersion("1", time.Unix(100, 0))))
	require.NoError(t, s.Append(ctx, newVersion("1", time.Unix(200, 0))))
	require.NoError(t, s.Append(ctx, newVersion("1", time.Unix(300, 0))))

	start := time.Unix(150, 0)
	end := time.Unix(250, 0)
	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].CreatedAt.Equal(time.Unix(200, 0)))
}

func TestMemoryStore_TransactionStagingAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.False(t, s.InTransaction(ctx))
	s.Begin()
	assert.True(t, s.InTransaction(ctx))

	require.NoError(t, s.Append(ctx, newVersion("1", time.Unix(100, 0))))

	staged, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, staged, 1, "staged versions are visible inside the transaction")
	assert.Equal(t, 0, s.Count(), "staged versions are not committed")

	require.NoError(t, s.Rollback())
	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryStore_TransactionCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Begin()
	require.NoError(t, s.Append(ctx, newVersion("1", time.Unix(100, 0))))
	require.NoError(t, s.Commit())

	assert.Equal(t, 1, s.Count())
	assert.False(t, s.InTransaction(ctx))
}

func TestMemoryStore_CommitWithoutTransaction(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Commit(), ErrNoTransaction)
	assert.ErrorIs(t, s.Rollback(), ErrNoTransaction)
}

func TestMemoryStore_TagTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v := newVersion("1", time.Unix(100, 0))
	require.NoError(t, s.Append(ctx, v))

	txID := uuid.New()
	require.NoError(t, s.TagTransaction(ctx, v.ID, txID))

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].TransactionID)
	assert.Equal(t, txID, *out[0].TransactionID)

	assert.Error(t, s.TagTransaction(ctx, uuid.New(), txID))
}

func TestMemoryStore_HasColumn(t *testing.T) {
	ctx := context.Background()

	full := NewMemoryStore()
	ok, err := full.HasColumn(ctx, "versions", "transaction_id")
	require.NoError(t, err)
	assert.True(t, ok)

	partial := NewMemoryStore(WithoutColumn("versions", "transaction_id"))
	ok, err = partial.HasColumn(ctx, "versions", "transaction_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_FailNextAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	boom := errors.New("boom")
	s.FailNextAppend(boom)
	assert.ErrorIs(t, s.Append(ctx, newVersion("1", time.Unix(100, 0))), boom)
	assert.NoError(t, s.Append(ctx, newVersion("1", time.Unix(100, 0))), "failure applies to a single append")
}
