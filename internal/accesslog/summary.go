package accesslog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// Summary is a day's activity in the access log.
type Summary struct {
	GrantedToday int    `json:"granted_today"`
	FailedToday  int    `json:"failed_today"`
	LastAccess   *Entry `json:"last_access,omitempty"`
}

// Summarise counts attempts since local midnight at now in loc and finds
// the most recent granted attempt.
func Summarise(ctx context.Context, repo Repository, now time.Time, loc *time.Location) (*Summary, error) {
	since := StartOfDay(now, loc)

	granted, err := repo.CountSince(ctx, access.NotificationValidated, since)
	if err != nil {
		return nil, fmt.Errorf("counting granted attempts: %w", err)
	}
	failed, err := repo.CountSince(ctx, access.NotificationFailed, since)
	if err != nil {
		return nil, fmt.Errorf("counting failed attempts: %w", err)
	}

	s := &Summary{GrantedToday: granted, FailedToday: failed}
	last, err := repo.Last(ctx, access.NotificationValidated)
	switch {
	case err == nil:
		s.LastAccess = last
	case !errors.Is(err, ErrNoEntries):
		return nil, fmt.Errorf("reading last access: %w", err)
	}
	return s, nil
}

// StartOfDay returns midnight of t's date in loc. A nil loc means UTC.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
