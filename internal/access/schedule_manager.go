package access

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchedulePatch holds the fields of a schedule update. Nil fields are left
// unchanged.
type SchedulePatch struct {
	DayOfWeek *int
	StartTime *string
	EndTime   *string
	Active    *bool
}

// ScheduleManager creates, updates and removes schedules. Every schedule
// belongs to an existing user.
type ScheduleManager struct {
	store     *Store
	validator ScheduleValidator
	now       func() time.Time
	logger    Logger
}

// NewScheduleManager creates a manager over store.
func NewScheduleManager(store *Store) *ScheduleManager {
	return &ScheduleManager{
		store:  store,
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *ScheduleManager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetClock replaces the time source used for timestamps.
func (m *ScheduleManager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Create adds a weekly window for userID. The schedule is validated before
// the user is looked up.
func (m *ScheduleManager) Create(ctx context.Context, userID string, day int, start, end string, active bool) (*Schedule, error) {
	now := m.now().UTC()
	sc := &Schedule{
		ID:        uuid.NewString(),
		UserID:    userID,
		DayOfWeek: day,
		StartTime: strings.TrimSpace(start),
		EndTime:   strings.TrimSpace(end),
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.validator.ValidateSchedule(sc); err != nil {
		return nil, err
	}

	var created *Schedule
	err := m.store.Update(ctx, func(tx *Txn) error {
		if _, ok := tx.User(userID); !ok {
			return ErrUserNotFound
		}
		tx.PutSchedule(sc)
		created = sc
		return nil
	})
	if created == nil {
		return nil, err
	}

	m.logger.Info("schedule created", "schedule_id", sc.ID, "user_id", userID,
		"day_of_week", day, "start_time", sc.StartTime, "end_time", sc.EndTime)
	return created.Clone(), err
}

// Update applies patch to an existing schedule. The merged result is
// validated as a whole, so a patch that only moves the start past the
// current end is rejected.
func (m *ScheduleManager) Update(ctx context.Context, id string, patch SchedulePatch) (*Schedule, error) {
	var updated *Schedule
	err := m.store.Update(ctx, func(tx *Txn) error {
		current, ok := tx.Schedule(id)
		if !ok {
			return ErrScheduleNotFound
		}
		sc := current.Clone()
		if patch.DayOfWeek != nil {
			sc.DayOfWeek = *patch.DayOfWeek
		}
		if patch.StartTime != nil {
			sc.StartTime = strings.TrimSpace(*patch.StartTime)
		}
		if patch.EndTime != nil {
			sc.EndTime = strings.TrimSpace(*patch.EndTime)
		}
		if patch.Active != nil {
			sc.Active = *patch.Active
		}
		if err := m.validator.ValidateSchedule(sc); err != nil {
			return err
		}
		sc.UpdatedAt = m.now().UTC()

		tx.PutSchedule(sc)
		updated = sc
		return nil
	})
	if updated == nil {
		return nil, err
	}

	m.logger.Debug("schedule updated", "schedule_id", id)
	return updated.Clone(), err
}

// Remove deletes a schedule.
func (m *ScheduleManager) Remove(ctx context.Context, id string) error {
	return m.store.Update(ctx, func(tx *Txn) error {
		if _, ok := tx.Schedule(id); !ok {
			return ErrScheduleNotFound
		}
		tx.DeleteSchedule(id)
		return nil
	})
}

// Get returns a copy of the schedule with the given ID.
func (m *ScheduleManager) Get(id string) (*Schedule, error) {
	var out *Schedule
	_ = m.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
		if sc, ok := r.Schedule(id); ok {
			out = sc.Clone()
		}
		return nil
	})
	if out == nil {
		return nil, ErrScheduleNotFound
	}
	return out, nil
}

// ListForUser returns copies of a user's schedules ordered by day and start.
// An unknown user is reported as ErrUserNotFound rather than an empty list.
func (m *ScheduleManager) ListForUser(userID string) ([]*Schedule, error) {
	var out []*Schedule
	err := m.store.View(func(r Reader) error {
		if _, ok := r.User(userID); !ok {
			return ErrUserNotFound
		}
		for _, sc := range r.SchedulesForUser(userID) {
			out = append(out, sc.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSchedules(out)
	return out, nil
}

// List returns copies of every schedule ordered by user, day and start.
func (m *ScheduleManager) List() []*Schedule {
	var out []*Schedule
	_ = m.store.View(func(r Reader) error { //nolint:errcheck // callback never fails
		r.EachSchedule(func(sc *Schedule) bool {
			out = append(out, sc.Clone())
			return true
		})
		return nil
	})
	sortSchedules(out)
	return out
}

func sortSchedules(s []*Schedule) {
	slices.SortStableFunc(s, func(a, b *Schedule) int {
		return cmp.Or(
			cmp.Compare(a.UserID, b.UserID),
			cmp.Compare(a.DayOfWeek, b.DayOfWeek),
			cmp.Compare(a.StartTime, b.StartTime),
			cmp.Compare(a.ID, b.ID),
		)
	})
}
