// Package sqlite implements the chronicle VersionStore over an embedded
// SQLite database, for hosts that version records without a server-side
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mjhale/chronicle"
)

// timeLayout is the stored created_at format. The fractional seconds are
// fixed width and the zone is always UTC, so lexicographic comparison of the
// stored strings matches chronological order; RFC3339Nano would drop trailing
// fractional zeros and break ORDER BY and range predicates.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed version store. The sequence column is the rowid
// autoincrement, which preserves insertion order for timestamp tie-breaking.
type Store struct {
	db *sql.DB
	tx *sql.Tx
}

// New opens (or creates) the database at path and initialises the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS versions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		event TEXT NOT NULL,
		whodunnit TEXT,
		object BLOB,
		object_changes BLOB,
		meta BLOB,
		created_at TEXT NOT NULL,
		transaction_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_versions_item
		ON versions (item_type, item_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS version_associations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version_id TEXT NOT NULL,
		foreign_key_name TEXT NOT NULL,
		foreign_key_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_version_associations_foreign_key
		ON version_associations (foreign_key_name, foreign_key_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// WithTransaction runs fn with a transaction-bound store, committing on
// success and rolling back on error.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Store{db: s.db, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, v *chronicle.Version) error {
	meta, err := encodeMeta(v.Meta)
	if err != nil {
		return err
	}
	var txID sql.NullString
	if v.TransactionID != nil {
		txID = sql.NullString{String: v.TransactionID.String(), Valid: true}
	}
	var whodunnit sql.NullString
	if v.Whodunnit != nil {
		whodunnit = sql.NullString{String: *v.Whodunnit, Valid: true}
	}

	result, err := s.q().ExecContext(ctx, `
		INSERT INTO versions (id, item_type, item_id, event, whodunnit, object, object_changes, meta, created_at, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.ItemType, v.ItemID, string(v.Event), whodunnit,
		v.Object, v.ObjectChanges, meta, v.CreatedAt.UTC().Format(timeLayout), txID,
	)
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read version sequence: %w", err)
	}
	v.Sequence = seq
	return nil
}

func (s *Store) AppendLink(ctx context.Context, link chronicle.AssociationLink) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO version_associations (version_id, foreign_key_name, foreign_key_id)
		VALUES (?, ?, ?)`,
		link.VersionID.String(), link.ForeignKeyName, link.ForeignKeyID,
	)
	if err != nil {
		return fmt.Errorf("failed to append association link: %w", err)
	}
	return nil
}

func (s *Store) Versions(ctx context.Context, itemType, itemID string, rng chronicle.TimeRange) ([]chronicle.Version, error) {
	query := `
		SELECT id, item_type, item_id, event, whodunnit, object, object_changes, meta, created_at, transaction_id, seq
		FROM versions
		WHERE item_type = ? AND item_id = ?`
	args := []any{itemType, itemID}
	if rng.Start != nil {
		query += " AND created_at >= ?"
		args = append(args, rng.Start.UTC().Format(timeLayout))
	}
	if rng.End != nil {
		query += " AND created_at <= ?"
		args = append(args, rng.End.UTC().Format(timeLayout))
	}
	query += " ORDER BY created_at ASC, seq ASC"

	rows, err := s.q().QueryContext(ctx, query, args...)
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

func (s *Store) TagTransaction(ctx context.Context, versionID, transactionID uuid.UUID) error {
	result, err := s.q().ExecContext(ctx,
		`UPDATE versions SET transaction_id = ? WHERE id = ?`,
		transactionID.String(), versionID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to tag transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read tag result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("version %s not found", versionID)
	}
	return nil
}

func (s *Store) InTransaction(ctx context.Context) bool {
	return s.tx != nil
}

func (s *Store) HasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.q().QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			primary int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &primary); err != nil {
			return false, fmt.Errorf("failed to scan schema row: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func scanVersion(rows *sql.Rows) (chronicle.Version, error) {
	var (
		v         chronicle.Version
		id        string
		event     string
		whodunnit sql.NullString
		meta      []byte
		createdAt string
		txID      sql.NullString
	)
	if err := rows.Scan(&id, &v.ItemType, &v.ItemID, &event, &whodunnit, &v.Object, &v.ObjectChanges, &meta, &createdAt, &txID, &v.Sequence); err != nil {
		return chronicle.Version{}, fmt.Errorf("failed to scan version: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return chronicle.Version{}, fmt.Errorf("malformed version id %q: %w", id, err)
	}
	v.ID = parsed
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
	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return chronicle.Version{}, fmt.Errorf("malformed version timestamp %q: %w", createdAt, err)
	}
	v.CreatedAt = ts
	if txID.Valid {
		parsedTx, err := uuid.Parse(txID.String)
		if err != nil {
			return chronicle.Version{}, fmt.Errorf("malformed transaction id %q: %w", txID.String, err)
		}
		v.TransactionID = &parsedTx
	}
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
