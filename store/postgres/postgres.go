// Package postgres implements the chronicle VersionStore over a PostgreSQL
// versions table, using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjhale/chronicle"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a pgx-backed version store. The zero value is unusable; construct
// with New or NewWithPool. A store bound to a transaction via WithTx reports
// an active transactional context, which is what enables transaction
// grouping for versions written through it.
type Store struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// New connects a pool with conservative settings and pings it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Minute * 30
	poolConfig.MaxConnIdleTime = time.Minute * 5
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{pool: s.pool, tx: tx}
}

// WithTransaction runs fn with a transaction-bound store, committing on
// success and rolling back on error or panic.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(s.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

// Append inserts the version and fills its store-assigned sequence.
func (s *Store) Append(ctx context.Context, v *chronicle.Version) error {
	meta, err := encodeMeta(v.Meta)
	if err != nil {
		return err
	}

	row := s.q().QueryRow(ctx, `
		INSERT INTO versions (id, item_type, item_id, event, whodunnit, object, object_changes, meta, created_at, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		v.ID, v.ItemType, v.ItemID, string(v.Event), textOrNull(v.Whodunnit),
		jsonbOrNull(v.Object), jsonbOrNull(v.ObjectChanges), jsonbOrNull(meta),
		v.CreatedAt, v.TransactionID,
	)
	if err := row.Scan(&v.Sequence); err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	return nil
}

// AppendLink inserts an association link row for an already appended version.
func (s *Store) AppendLink(ctx context.Context, link chronicle.AssociationLink) error {
	_, err := s.q().Exec(ctx, `
		INSERT INTO version_associations (version_id, foreign_key_name, foreign_key_id)
		VALUES ($1, $2, $3)`,
		link.VersionID, link.ForeignKeyName, link.ForeignKeyID,
	)
	if err != nil {
		return fmt.Errorf("failed to append association link: %w", err)
	}
	return nil
}

// Versions returns the item's stream ordered by (created_at, seq) ascending.
func (s *Store) Versions(ctx context.Context, itemType, itemID string, rng chronicle.TimeRange) ([]chronicle.Version, error) {
	sql := `
		SELECT id, item_type, item_id, event, whodunnit, object, object_changes, meta, created_at, transaction_id, seq
		FROM versions
		WHERE item_type = $1 AND item_id = $2`
	args := []any{itemType, itemID}
	if rng.Start != nil {
		args = append(args, *rng.Start)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if rng.End != nil {
		args = append(args, *rng.End)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	sql += " ORDER BY created_at ASC, seq ASC"

	rows, err := s.q().Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var out []chronicle.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	return out, nil
}

// TagTransaction sets the transaction_id of an already appended version.
func (s *Store) TagTransaction(ctx context.Context, versionID, transactionID uuid.UUID) error {
	tag, err := s.q().Exec(ctx, `UPDATE versions SET transaction_id = $1 WHERE id = $2`, transactionID, versionID)
	if err != nil {
		return fmt.Errorf("failed to tag transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("version %s not found", versionID)
	}
	return nil
}

// InTransaction reports whether the store is bound to an open transaction.
func (s *Store) InTransaction(ctx context.Context) bool {
	return s.tx != nil
}

// HasColumn checks information_schema for an optional column.
func (s *Store) HasColumn(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := s.q().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return exists, nil
}

func scanVersion(rows pgx.Rows) (chronicle.Version, error) {
	var (
		v         chronicle.Version
		event     string
		whodunnit pgtype.Text
		meta      []byte
		txID      *uuid.UUID
	)
	if err := rows.Scan(&v.ID, &v.ItemType, &v.ItemID, &event, &whodunnit, &v.Object, &v.ObjectChanges, &meta, &v.CreatedAt, &txID, &v.Sequence); err != nil {
		return chronicle.Version{}, fmt.Errorf("failed to scan version: %w", err)
	}
	v.Event = chronicle.Event(event)
	if whodunnit.Valid {
		actor := whodunnit.String
		v.Whodunnit = &actor
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &v.Meta); err != nil {
			return chronicle.Version{}, fmt.Errorf("failed to decode version meta: %w", err)
		}
	}
	v.TransactionID = txID
	return v, nil
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode version meta: %w", err)
	}
	return data, nil
}

func textOrNull(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func jsonbOrNull(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
