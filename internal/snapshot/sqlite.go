package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// SQLiteStore keeps the snapshot document in the access_snapshot table.
// The table is created by the embedded migrations.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite snapshot store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Load reads the document row. No row means nothing has been saved yet.
func (s *SQLiteStore) Load(ctx context.Context) (*access.Snapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM access_snapshot WHERE id = 1").Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying access snapshot: %w", err)
	}
	snap, err := Decode([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("decoding access snapshot: %w", err)
	}
	return snap, nil
}

// Save replaces the document row in one statement.
func (s *SQLiteStore) Save(ctx context.Context, snap *access.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO access_snapshot (id, document, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, saved_at = excluded.saved_at`,
		string(data),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving access snapshot: %w", err)
	}
	return nil
}
