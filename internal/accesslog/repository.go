// Package accesslog records validation attempts in the access_log table and
// answers the questions the keypad dashboard asks: recent attempts, how many
// were granted or refused today, and who got in last.
//
// Credentials are never stored, only the outcome.
package accesslog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one validation attempt.
type Entry struct {
	ID        string                  `json:"id"`
	Type      access.NotificationType `json:"type"`
	Method    access.Method           `json:"method"`
	UserID    string                  `json:"user_id,omitempty"`
	UserName  string                  `json:"user_name,omitempty"`
	Source    string                  `json:"source"`
	Reason    access.Reason           `json:"reason,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// FromNotification converts a notification record, dropping the credential.
func FromNotification(n access.Notification) *Entry {
	return &Entry{
		Type:      n.Type,
		Method:    n.Method,
		UserID:    n.UserID,
		UserName:  n.UserName,
		Source:    n.Source,
		Reason:    n.Reason,
		CreatedAt: n.Timestamp,
	}
}

// Filter controls which entries List returns.
type Filter struct {
	Type   access.NotificationType // optional
	UserID string                  // optional
	Source string                  // optional
	Since  time.Time               // optional, inclusive
	Limit  int                     // default 50, max 200
	Offset int
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for access log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	CountSince(ctx context.Context, typ access.NotificationType, since time.Time) (int, error)
	Last(ctx context.Context, typ access.NotificationType) (*Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// ErrNoEntries is returned by Last when the log holds no matching entry.
var ErrNoEntries = errors.New("no access log entries")

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new access log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "acc-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_log (id, type, method, user_id, user_name, source, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), string(e.Method),
		nullableString(e.UserID), nullableString(e.UserName),
		e.Source, nullableString(string(e.Reason)),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting access log entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM access_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access log entries: %w", err)
	}

	query := "SELECT id, type, method, user_id, user_name, source, reason, created_at FROM access_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// CountSince counts entries of typ created at or after since.
// An empty typ counts both outcomes.
func (r *SQLiteRepository) CountSince(ctx context.Context, typ access.NotificationType, since time.Time) (int, error) {
	query := "SELECT COUNT(*) FROM access_log WHERE created_at >= ?"
	args := []any{formatTime(since)}
	if typ != "" {
		query += " AND type = ?"
		args = append(args, string(typ))
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting access log entries: %w", err)
	}
	return n, nil
}

// Last returns the most recent entry of typ, or ErrNoEntries.
func (r *SQLiteRepository) Last(ctx context.Context, typ access.NotificationType) (*Entry, error) {
	query := "SELECT id, type, method, user_id, user_name, source, reason, created_at FROM access_log"
	var args []any
	if typ != "" {
		query += " WHERE type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoEntries
	}
	return e, err
}

// Prune deletes entries older than before and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM access_log WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning access log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var typ, method, createdAt string
	var userID, userName, reason sql.NullString

	if err := s.Scan(&e.ID, &typ, &method, &userID, &userName, &e.Source, &reason, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning access log entry: %w", err)
	}
	e.Type = access.NotificationType(typ)
	e.Method = access.Method(method)
	e.UserID = userID.String
	e.UserName = userName.String
	e.Reason = access.Reason(reason.String)

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing access log timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}

// timeLayout sorts lexically in chronological order for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableString returns nil for empty strings so the column stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
