package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// formatVersion is written into every document.
// Documents without a version are treated as version 1.
const formatVersion = 1

type document struct {
	Version   int              `json:"version"`
	Users     []userRecord     `json:"users"`
	Schedules []scheduleRecord `json:"schedules"`
	Settings  *settingsRecord  `json:"settings,omitempty"`
}

type userRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CodeSalt   string     `json:"code_salt,omitempty"`
	CodeHash   string     `json:"code_hash,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type scheduleRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DayOfWeek int       `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type settingsRecord struct {
	DefaultAccessTime int  `json:"default_access_time"`
	DebugLogging      bool `json:"debug_logging"`
}

// Encode renders a snapshot as an indented JSON document.
func Encode(snap *access.Snapshot) ([]byte, error) {
	doc := document{
		Version:   formatVersion,
		Users:     make([]userRecord, 0, len(snap.Users)),
		Schedules: make([]scheduleRecord, 0, len(snap.Schedules)),
		Settings: &settingsRecord{
			DefaultAccessTime: snap.Settings.DefaultAccessTime,
			DebugLogging:      snap.Settings.DebugLogging,
		},
	}
	for _, u := range snap.Users {
		doc.Users = append(doc.Users, userRecord{
			ID:         u.ID,
			Name:       u.Name,
			CodeSalt:   u.CodeSalt,
			CodeHash:   u.CodeHash,
			Tag:        u.Tag,
			Active:     u.Active,
			CreatedAt:  u.CreatedAt.UTC(),
			UpdatedAt:  u.UpdatedAt.UTC(),
			LastUsedAt: utcPtr(u.LastUsedAt),
		})
	}
	for _, sc := range snap.Schedules {
		doc.Schedules = append(doc.Schedules, scheduleRecord{
			ID:        sc.ID,
			UserID:    sc.UserID,
			DayOfWeek: sc.DayOfWeek,
			StartTime: sc.StartTime,
			EndTime:   sc.EndTime,
			Active:    sc.Active,
			CreatedAt: sc.CreatedAt.UTC(),
			UpdatedAt: sc.UpdatedAt.UTC(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a JSON document into a snapshot. A document without a
// settings object gets access.DefaultSettings.
func Decode(data []byte) (*access.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if doc.Version > formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	snap := &access.Snapshot{
		Users:     make([]access.User, 0, len(doc.Users)),
		Schedules: make([]access.Schedule, 0, len(doc.Schedules)),
		Settings:  access.DefaultSettings(),
	}
	if doc.Settings != nil {
		snap.Settings = access.Settings{
			DefaultAccessTime: doc.Settings.DefaultAccessTime,
			DebugLogging:      doc.Settings.DebugLogging,
		}
	}
	for _, r := range doc.Users {
		updated := r.UpdatedAt
		if updated.IsZero() {
			updated = r.CreatedAt
		}
		snap.Users = append(snap.Users, access.User{
			ID:         r.ID,
			Name:       r.Name,
			CodeSalt:   r.CodeSalt,
			CodeHash:   r.CodeHash,
			Tag:        r.Tag,
			Active:     r.Active,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  updated,
			LastUsedAt: r.LastUsedAt,
		})
	}
	for _, r := range doc.Schedules {
		updated := r.UpdatedAt
		if updated.IsZero() {
			updated = r.CreatedAt
		}
		snap.Schedules = append(snap.Schedules, access.Schedule{
			ID:        r.ID,
			UserID:    r.UserID,
			DayOfWeek: r.DayOfWeek,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			Active:    r.Active,
			CreatedAt: r.CreatedAt,
			UpdatedAt: updated,
		})
	}
	return snap, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
