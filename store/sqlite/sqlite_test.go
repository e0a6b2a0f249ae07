package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjhale/chronicle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "versions.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleVersion(itemID string, at time.Time) *chronicle.Version {
	actor := "alice"
	return &chronicle.Version{
		ID:            uuid.New(),
		ItemType:      "Widget",
		ItemID:        itemID,
		Event:         chronicle.EventUpdate,
		Whodunnit:     &actor,
		ObjectChanges: []byte(`{"name":["A","B"]}`),
		Meta:          map[string]any{"request": "r-1"},
		CreatedAt:     at,
	}
}

func TestSQLiteStore_AppendAndQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v := sampleVersion("1", at)
	require.NoError(t, s.Append(ctx, v))
	assert.Positive(t, v.Sequence)

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, chronicle.EventUpdate, got.Event)
	require.NotNil(t, got.Whodunnit)
	assert.Equal(t, "alice", *got.Whodunnit)
	assert.JSONEq(t, `{"name":["A","B"]}`, string(got.ObjectChanges))
	assert.Equal(t, map[string]any{"request": "r-1"}, got.Meta)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Nil(t, got.TransactionID)
}

func TestSQLiteStore_VersionsOrderedWithTieBreak(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := sampleVersion("1", at)
	second := sampleVersion("1", at)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, first.ID, out[0].ID)
	assert.Equal(t, second.ID, out[1].ID)
}

func TestSQLiteStore_FractionalSecondOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// A whole-second timestamp and a fractional one within the same second:
	// the stored strings must still compare chronologically.
	whole := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fractional := whole.Add(500 * time.Millisecond)

	earlier := sampleVersion("1", whole)
	later := sampleVersion("1", fractional)
	require.NoError(t, s.Append(ctx, earlier))
	require.NoError(t, s.Append(ctx, later))

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, earlier.ID, out[0].ID, "whole-second version must sort before the fractional one")
	assert.Equal(t, later.ID, out[1].ID)
	assert.True(t, out[0].CreatedAt.Equal(whole))
	assert.True(t, out[1].CreatedAt.Equal(fractional))

	start := whole.Add(250 * time.Millisecond)
	ranged, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{Start: &start})
	require.NoError(t, err)
	require.Len(t, ranged, 1, "a sub-second range start must exclude the whole-second version")
	assert.Equal(t, later.ID, ranged[0].ID)
}

func TestSQLiteStore_TimeRangeFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, sampleVersion("1", base)))
	require.NoError(t, s.Append(ctx, sampleVersion("1", base.Add(time.Hour))))

	start := base.Add(30 * time.Minute)
	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{Start: &start})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].CreatedAt.Equal(base.Add(time.Hour)))
}

func TestSQLiteStore_TagTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v := sampleVersion("1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
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

func TestSQLiteStore_AppendLink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v := sampleVersion("1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.Append(ctx, v))
	require.NoError(t, s.AppendLink(ctx, chronicle.AssociationLink{
		VersionID:      v.ID,
		ForeignKeyName: "post_id",
		ForeignKeyID:   "42",
	}))

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM version_associations WHERE version_id = ?`, v.ID.String(),
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_HasColumn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.HasColumn(ctx, "versions", "transaction_id")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasColumn(ctx, "versions", "no_such_column")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_WithTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTransaction(ctx, func(txStore *Store) error {
		assert.True(t, txStore.InTransaction(ctx))
		if err := txStore.Append(ctx, sampleVersion("1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, out, "rolled back appends must not persist")
	assert.False(t, s.InTransaction(ctx))
}

func TestSQLiteStore_WithTransactionCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithTransaction(ctx, func(txStore *Store) error {
		return txStore.Append(ctx, sampleVersion("1", time.Now()))
	})
	require.NoError(t, err)

	out, err := s.Versions(ctx, "Widget", "1", chronicle.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
