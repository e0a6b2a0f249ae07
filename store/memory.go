// Package store provides VersionStore implementations for the chronicle
// engine. The in-memory store lives here; database-backed stores live in the
// postgres and sqlite subpackages.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mjhale/chronicle"
)

// ErrNoTransaction is returned when Commit or Rollback is called without an
// open transaction.
var ErrNoTransaction = errors.New("store: no open transaction")

// MemoryStore is an append-only in-memory version store. It supports a
// single staged transaction at a time, which is enough to exercise
// transaction grouping and rollback semantics without a database. Safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	versions []chronicle.Version
	links    []chronicle.AssociationLink
	seq      int64

	staged      []chronicle.Version
	stagedLinks []chronicle.AssociationLink
	inTx        bool

	missing  map[[2]string]bool
	failNext error
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithoutColumn simulates a schema lacking an optional column, such as
// transaction_id.
func WithoutColumn(table, column string) MemoryOption {
	return func(s *MemoryStore) {
		s.missing[[2]string{table, column}] = true
	}
}

// NewMemoryStore returns an empty store with the full schema.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{missing: make(map[[2]string]bool)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin opens a staged transaction. Appends are invisible to readers outside
// the transaction until Commit.
func (s *MemoryStore) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
}

// Commit publishes the staged writes.
func (s *MemoryStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return ErrNoTransaction
	}
	s.versions = append(s.versions, s.staged...)
	s.links = append(s.links, s.stagedLinks...)
	s.staged = nil
	s.stagedLinks = nil
	s.inTx = false
	return nil
}

// Rollback discards the staged writes.
func (s *MemoryStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return ErrNoTransaction
	}
	s.staged = nil
	s.stagedLinks = nil
	s.inTx = false
	return nil
}

// FailNextAppend makes the next Append return err, for write failure tests.
func (s *MemoryStore) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) Append(ctx context.Context, v *chronicle.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.seq++
	v.Sequence = s.seq
	if s.inTx {
		s.staged = append(s.staged, *v)
	} else {
		s.versions = append(s.versions, *v)
	}
	return nil
}

func (s *MemoryStore) AppendLink(ctx context.Context, link chronicle.AssociationLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		s.stagedLinks = append(s.stagedLinks, link)
	} else {
		s.links = append(s.links, link)
	}
	return nil
}

func (s *MemoryStore) Versions(ctx context.Context, itemType, itemID string, rng chronicle.TimeRange) ([]chronicle.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chronicle.Version
	collect := func(vs []chronicle.Version) {
		for _, v := range vs {
			if v.ItemType == itemType && v.ItemID == itemID && rng.Contains(v.CreatedAt) {
				out = append(out, v)
			}
		}
	}
	collect(s.versions)
	if s.inTx {
		collect(s.staged)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *MemoryStore) TagTransaction(ctx context.Context, versionID, transactionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vs := range [][]chronicle.Version{s.staged, s.versions} {
		for idx := range vs {
			if vs[idx].ID == versionID {
				id := transactionID
				vs[idx].TransactionID = &id
				return nil
			}
		}
	}
	return errors.New("store: version not found")
}

func (s *MemoryStore) InTransaction(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx
}

func (s *MemoryStore) HasColumn(ctx context.Context, table, column string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.missing[[2]string{table, column}], nil
}

// Links returns all committed association links, for inspection in tests.
func (s *MemoryStore) Links() []chronicle.AssociationLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chronicle.AssociationLink(nil), s.links...)
}

// Count returns the number of committed versions.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}
