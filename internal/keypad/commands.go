package keypad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
)

// commandFunc runs one command. It may return data together with an
// access.ErrStorage error when the change applied but was not saved.
type commandFunc func(ctx context.Context, payload []byte) (any, error)

// Command names, the last segment of graylogic/access/command/{op}.
const (
	CmdCreateUser     = "create_user"
	CmdGetUser        = "get_user"
	CmdUpdateUserName = "update_user_name"
	CmdUpdateUserCode = "update_user_code"
	CmdUpdateUserTag  = "update_user_tag"
	CmdSetUserActive  = "set_user_active"
	CmdRemoveUser     = "remove_user"
	CmdListUsers      = "list_users"
	CmdCreateSchedule = "create_schedule"
	CmdUpdateSchedule = "update_schedule"
	CmdRemoveSchedule = "remove_schedule"
	CmdListSchedules  = "list_schedules"
	CmdGetStats       = "get_stats"
	CmdGetSettings    = "get_settings"
	CmdUpdateSettings = "update_settings"
	CmdListAccessLog  = "list_access_log"
)

func (b *Bridge) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		CmdCreateUser:     b.createUser,
		CmdGetUser:        b.getUser,
		CmdUpdateUserName: b.updateUserName,
		CmdUpdateUserCode: b.updateUserCode,
		CmdUpdateUserTag:  b.updateUserTag,
		CmdSetUserActive:  b.setUserActive,
		CmdRemoveUser:     b.removeUser,
		CmdListUsers:      b.listUsers,
		CmdCreateSchedule: b.createSchedule,
		CmdUpdateSchedule: b.updateSchedule,
		CmdRemoveSchedule: b.removeSchedule,
		CmdListSchedules:  b.listSchedules,
		CmdGetStats:       b.getStats,
		CmdGetSettings:    b.getSettings,
		CmdUpdateSettings: b.updateSettings,
		CmdListAccessLog:  b.listAccessLog,
	}
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (b *Bridge) createUser(ctx context.Context, payload []byte) (any, error) {
	var req createUserRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return userResult(b.deps.Users.Create(ctx, req.Name, req.Code, req.Tag, active))
}

func (b *Bridge) getUser(_ context.Context, payload []byte) (any, error) {
	var req userIDRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	return userResult(b.deps.Users.Get(req.UserID))
}

func (b *Bridge) updateUserName(ctx context.Context, payload []byte) (any, error) {
	var req updateNameRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	return userResult(b.deps.Users.UpdateName(ctx, req.UserID, req.Name))
}

func (b *Bridge) updateUserCode(ctx context.Context, payload []byte) (any, error) {
	var req updateCodeRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	return userResult(b.deps.Users.UpdateCode(ctx, req.UserID, req.Code))
}

func (b *Bridge) updateUserTag(ctx context.Context, payload []byte) (any, error) {
	var req updateTagRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	return userResult(b.deps.Users.UpdateTag(ctx, req.UserID, req.Tag))
}

func (b *Bridge) setUserActive(ctx context.Context, payload []byte) (any, error) {
	var req setActiveRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	return userResult(b.deps.Users.SetActive(ctx, req.UserID, *req.Active))
}

func (b *Bridge) removeUser(ctx context.Context, payload []byte) (any, error) {
	var req userIDRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	err := b.deps.Users.Remove(ctx, req.UserID)
	if err != nil && !errors.Is(err, access.ErrStorage) {
		return nil, err
	}
	return map[string]string{"user_id": req.UserID}, err
}

func (b *Bridge) listUsers(context.Context, []byte) (any, error) {
	users := b.deps.Users.List()
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, NewUserView(u))
	}
	return views, nil
}

// userResult converts a manager result, keeping the user when the error is
// only a failed save.
func userResult(u *access.User, err error) (any, error) {
	if u == nil {
		return nil, err
	}
	return NewUserView(u), err
}

// NewUserView builds the client-facing view of u.
func NewUserView(u *access.User) UserView {
	v := UserView{
		ID:        u.ID,
		Name:      u.Name,
		HasCode:   u.HasCode(),
		Tag:       u.Tag,
		Active:    u.Active,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if u.LastUsedAt != nil {
		s := u.LastUsedAt.UTC().Format(time.RFC3339)
		v.LastUsedAt = &s
	}
	return v
}

// -----------------------------------------------------------------------------
// Schedules
// -----------------------------------------------------------------------------

func (b *Bridge) createSchedule(ctx context.Context, payload []byte) (any, error) {
	var req createScheduleRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return scheduleResult(b.deps.Schedules.Create(ctx, req.UserID, *req.DayOfWeek, req.StartTime, req.EndTime, active))
}

func (b *Bridge) updateSchedule(ctx context.Context, payload []byte) (any, error) {
	var req updateScheduleRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	patch := access.SchedulePatch{
		DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Active:    req.Active,
	}
	return scheduleResult(b.deps.Schedules.Update(ctx, req.ScheduleID, patch))
}

func (b *Bridge) removeSchedule(ctx context.Context, payload []byte) (any, error) {
	var req scheduleIDRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	err := b.deps.Schedules.Remove(ctx, req.ScheduleID)
	if err != nil && !errors.Is(err, access.ErrStorage) {
		return nil, err
	}
	return map[string]string{"schedule_id": req.ScheduleID}, err
}

func (b *Bridge) listSchedules(_ context.Context, payload []byte) (any, error) {
	var req listSchedulesRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nonNil(b.deps.Schedules.List()), nil
	}
	schedules, err := b.deps.Schedules.ListForUser(req.UserID)
	if err != nil {
		return nil, err
	}
	return nonNil(schedules), nil
}

func scheduleResult(sc *access.Schedule, err error) (any, error) {
	if sc == nil {
		return nil, err
	}
	return sc, err
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil(s []*access.Schedule) []*access.Schedule {
	if s == nil {
		return []*access.Schedule{}
	}
	return s
}

// -----------------------------------------------------------------------------
// Settings and stats
// -----------------------------------------------------------------------------

// Stats is the get_stats reply. AccessLog is set when the access log is enabled.
type Stats struct {
	access.Stats
	AccessLog *accesslog.Summary `json:"access_log,omitempty"`
}

func (b *Bridge) getStats(ctx context.Context, _ []byte) (any, error) {
	stats := Stats{Stats: b.deps.Store.Stats()}
	if b.accessLog == nil {
		return stats, nil
	}
	summary, err := accesslog.Summarise(ctx, b.accessLog, b.now(), b.location)
	if err != nil {
		return nil, err
	}
	stats.AccessLog = summary
	return stats, nil
}

func (b *Bridge) getSettings(context.Context, []byte) (any, error) {
	return b.deps.Store.Settings(), nil
}

func (b *Bridge) updateSettings(ctx context.Context, payload []byte) (any, error) {
	var req updateSettingsRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	settings := b.deps.Store.Settings()
	if req.DefaultAccessTime != nil {
		settings.DefaultAccessTime = *req.DefaultAccessTime
	}
	if req.DebugLogging != nil {
		settings.DebugLogging = *req.DebugLogging
	}

	err := b.deps.Store.UpdateSettings(ctx, settings)
	if err != nil && !errors.Is(err, access.ErrStorage) {
		return nil, err
	}
	if b.onSettings != nil {
		b.onSettings(settings)
	}
	b.logger.Info("settings updated",
		"default_access_time", settings.DefaultAccessTime,
		"debug_logging", settings.DebugLogging,
	)
	return settings, err
}

// -----------------------------------------------------------------------------
// Access log
// -----------------------------------------------------------------------------

func (b *Bridge) listAccessLog(ctx context.Context, payload []byte) (any, error) {
	if b.accessLog == nil {
		return nil, fmt.Errorf("%w: access log is disabled", ErrUnknownCommand)
	}
	var req listAccessLogRequest
	if err := decode(b.validate, payload, &req); err != nil {
		return nil, err
	}
	result, err := b.accessLog.List(ctx, accesslog.Filter{
		Type:   access.NotificationType(req.Type),
		UserID: req.UserID,
		Source: req.Source,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("listing access log: %w", err)
	}
	return result, nil
}
