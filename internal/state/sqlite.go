// internal/state/sqlite.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/bedtime/internal/types"
)

// SQLiteStore keeps each story as a JSON document in a single table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS stories (
		id         TEXT PRIMARY KEY,
		doc        TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	return err
}

// Get returns the story, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id types.StoryID) (*types.StoryRecord, error) {
	return s.get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id types.StoryID) (*types.StoryRecord, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM stories WHERE id = ?`, string(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select story: %w", err)
	}
	return decodeDoc(id, doc)
}

func decodeDoc(id types.StoryID, doc string) (*types.StoryRecord, error) {
	var rec types.StoryRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal story: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) put(ctx context.Context, e execer, record *types.StoryRecord) error {
	if err := checkID(record.ID); err != nil {
		return err
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal story: %w", err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO stories (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		string(record.ID), string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert story: %w", err)
	}
	return nil
}

// Put writes the whole record, replacing any existing one.
func (s *SQLiteStore) Put(ctx context.Context, record *types.StoryRecord) error {
	return s.put(ctx, s.db, record)
}

// Patch applies a partial update inside one transaction.
func (s *SQLiteStore) Patch(ctx context.Context, id types.StoryID, patch types.StoryPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, id)
	if err != nil {
		return err
	}
	patch.Apply(rec)
	if err := s.put(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the story. Deleting a missing story is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id types.StoryID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	return nil
}

// ListAll returns every story ordered by id.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*types.StoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM stories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	records := []*types.StoryRecord{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		rec, err := decodeDoc(types.StoryID(id), doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
